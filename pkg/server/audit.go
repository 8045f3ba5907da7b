package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/evidence/export"
	"jobmail-hq/governor/pkg/evidence/query"
	"jobmail-hq/governor/pkg/policy"
)

type auditPage struct {
	Records []*evidence.AuditRecord `json:"records"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// queryAudit serves GET /v1/audit. Filters: actor, action_id,
// bundle_version, event, outcome, since, until (RFC 3339), limit, offset,
// order. format=csv streams a CSV export of the page instead of JSON.
func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	q, err := parseAuditQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query.ApplyDefaultsWithLimit(q, s.deps.AuditLimit)
	if err := query.Validate(q); err != nil {
		s.writeError(w, r, err)
		return
	}

	records, err := s.deps.Audit.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if format := r.URL.Query().Get("format"); format != "" && format != "json" {
		exp, err := export.New(format, false)
		if err != nil {
			s.writeError(w, r, evidence.NewQueryError(q, err))
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		if err := exp.Export(r.Context(), records, w); err != nil {
			s.logger.ErrorContext(r.Context(), "audit export failed", "error", err)
		}
		return
	}

	total, err := s.deps.Audit.Count(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditPage{Records: records, Total: total, Limit: q.Limit, Offset: q.Offset})
}

func parseAuditQuery(r *http.Request) (*evidence.Query, error) {
	v := r.URL.Query()
	q := &evidence.Query{
		Actor:         v.Get("actor"),
		ActionID:      v.Get("action_id"),
		BundleVersion: v.Get("bundle_version"),
		Event:         evidence.Event(v.Get("event")),
		Outcome:       evidence.Outcome(v.Get("outcome")),
		SortOrder:     v.Get("order"),
	}
	var err error
	if q.Limit, err = intParam(r, "limit"); err != nil {
		return nil, err
	}
	if q.Offset, err = intParam(r, "offset"); err != nil {
		return nil, err
	}
	for name, dst := range map[string]**time.Time{"since": &q.StartTime, "until": &q.EndTime} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, evidence.NewQueryError(q, fmt.Errorf("%s must be RFC 3339: %w", name, err))
		}
		*dst = &t
	}
	return q, nil
}

type correctRequest struct {
	Reason string `json:"reason"`
}

// correctAudit serves POST /v1/audit/{id}/correct. The original record is
// never touched; a correction record superseding it is appended.
func (s *Server) correctAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Corrector == nil {
		writeErrorMessage(w, r, http.StatusNotImplemented, "corrections_disabled", "no audit recorder configured")
		return
	}
	var req correctRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		s.writeError(w, r, policy.NewValidationError("reason", "a correction needs a reason", nil))
		return
	}
	rec, err := s.deps.Corrector.Correct(r.Context(), chi.URLParam(r, "id"), actorOf(r), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
