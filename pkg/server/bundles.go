package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/signing"
)

type bundleList struct {
	Current string           `json:"current"`
	Bundles []*policy.Bundle `json:"bundles"`
}

type draftRequest struct {
	Version  string          `json:"version"`
	Policies []policy.Policy `json:"policies"`
	Source   string          `json:"source"`
}

// transitionRequest is the body of canary, promote, activate and rollback.
type transitionRequest struct {
	ExpectedVersion string `json:"expected_version"`
	Reason          string `json:"reason"`
}

type rollbackResponse struct {
	RolledBack *policy.Bundle `json:"rolled_back"`
	Restored   *policy.Bundle `json:"restored,omitempty"`
}

type testRequest struct {
	Contexts []engine.Context `json:"contexts"`
}

type testResponse struct {
	Version string `json:"version"`
	Results any    `json:"results"`
}

func (s *Server) listBundles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, bundleList{
		Current: s.deps.Registry.Current(),
		Bundles: s.deps.Registry.List(),
	})
}

func (s *Server) getBundle(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Registry.Get(chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) createDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	b, err := s.deps.Registry.CreateDraft(r.Context(), registry.DraftRequest{
		Version:  req.Version,
		Policies: req.Policies,
		Actor:    actorOf(r),
		Source:   req.Source,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) addPolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := decode(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Registry.AddPolicy(r.Context(), chi.URLParam(r, "version"), p, actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := decode(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if p.ID == "" {
		p.ID = id
	}
	if p.ID != id {
		s.writeError(w, r, policy.NewValidationError(id, fmt.Sprintf("body id %q does not match path", p.ID), nil))
		return
	}
	b, err := s.deps.Registry.UpdatePolicy(r.Context(), chi.URLParam(r, "version"), p, actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) removePolicy(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Registry.RemovePolicy(r.Context(), chi.URLParam(r, "version"), chi.URLParam(r, "id"), actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type stageFunc func(ctx context.Context, version, expected, actor string) (*policy.Bundle, error)

// transition serves the canary, promote and activate endpoints.
func (s *Server) transition(fn stageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := decode(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		b, err := fn(r.Context(), chi.URLParam(r, "version"), req.ExpectedVersion, actorOf(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *Server) rollback(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Registry.Rollback(r.Context(), registry.RollbackRequest{
		Version:  chi.URLParam(r, "version"),
		Expected: req.ExpectedVersion,
		Actor:    actorOf(r),
		Reason:   req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rollbackResponse{RolledBack: res.RolledBack, Restored: res.Restored})
}

func (s *Server) testBundle(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	version := chi.URLParam(r, "version")
	results, err := s.deps.Actions.Test(r.Context(), version, req.Contexts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, testResponse{Version: version, Results: results})
}

func (s *Server) exportBundle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exporter == nil {
		writeErrorMessage(w, r, http.StatusNotImplemented, "signing_disabled", "no signing key configured")
		return
	}
	enc := s.deps.ExportEncoding
	if raw := r.URL.Query().Get("encoding"); raw != "" {
		var err error
		if enc, err = signing.ParseEncoding(raw); err != nil {
			s.writeError(w, r, policy.NewValidationError("request", err.Error(), err))
			return
		}
	}
	if enc == "" {
		enc = signing.EncodingJSON
	}

	b, err := s.deps.Registry.Get(chi.URLParam(r, "version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sb, err := s.deps.Exporter.Export(b)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := sb.Encode(enc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", enc.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bundle-%s%s"`, b.Version, enc.Ext()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) importBundle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Importer == nil {
		writeErrorMessage(w, r, http.StatusNotImplemented, "signing_disabled", "no trusted keys configured")
		return
	}
	asNew := false
	if raw := r.URL.Query().Get("as_new_version"); raw != "" {
		var err error
		if asNew, err = strconv.ParseBool(raw); err != nil {
			s.writeError(w, r, policy.NewValidationError("request", "as_new_version must be a boolean", err))
			return
		}
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.deps.Importer.ImportBytes(r.Context(), data, signing.ImportOptions{
		Actor:        actorOf(r),
		AsNewVersion: asNew,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) syncGit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Git == nil {
		writeErrorMessage(w, r, http.StatusNotImplemented, "git_disabled", "no git repository configured")
		return
	}
	res, err := s.deps.Git.Sync(r.Context(), actorOf(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Skipped {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}
