package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/telemetry/logging"
)

// proposeRequest carries either explicit resources or a query resolved by
// the configured resource source.
type proposeRequest struct {
	Resources []actions.Resource `json:"resources"`
	Query     string             `json:"query"`
	Bundle    string             `json:"bundle"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type actionList struct {
	Actions []*actions.ProposedAction `json:"actions"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

func (s *Server) propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	switch {
	case req.Query != "" && len(req.Resources) > 0:
		s.writeError(w, r, policy.NewValidationError("request", "query and resources are mutually exclusive", nil))
		return
	case req.Query != "":
		if s.deps.Sources == nil {
			writeErrorMessage(w, r, http.StatusNotImplemented, "no_resource_source", "no resource source configured")
			return
		}
		resources, err := s.deps.Sources.Resolve(r.Context(), req.Query)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("resolve query: %w", err))
			return
		}
		req.Resources = resources
	}

	res, err := s.deps.Actions.Propose(r.Context(), actions.ProposeRequest{
		Resources: req.Resources,
		Actor:     actorOf(r),
		Bundle:    req.Bundle,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := actions.ListFilter{Status: actions.Status(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		s.writeError(w, r, policy.NewValidationError("request", fmt.Sprintf("unknown status %q", filter.Status), nil))
		return
	}
	var err error
	if filter.Limit, err = intParam(r, "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Offset, err = intParam(r, "offset"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filter.Limit == 0 {
		filter.Limit = actions.DefaultListLimit
	}
	list, err := s.deps.Actions.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionList{Actions: list, Limit: filter.Limit, Offset: filter.Offset})
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Actions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithActionID(r.Context(), id)
	res, err := s.deps.Actions.Approve(ctx, id, actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	ctx := logging.WithActionID(r.Context(), id)
	a, err := s.deps.Actions.Reject(ctx, id, actorOf(r), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
