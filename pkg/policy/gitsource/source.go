package gitsource

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/schedule"
)

// Actor is the audit actor of scheduled syncs.
const Actor = "system:git-sync"

// SourcePrefix marks drafts created from git; the commit SHA follows.
const SourcePrefix = "git:"

// Registry is the part of the bundle registry a sync writes to.
type Registry interface {
	List() []*policy.Bundle
	CreateDraft(ctx context.Context, req registry.DraftRequest) (*policy.Bundle, error)
}

// SyncResult describes one sync.
type SyncResult struct {
	Commit *CommitInfo    `json:"commit"`
	Bundle *policy.Bundle `json:"bundle,omitempty"`

	// Skipped is set when the commit was already turned into a draft.
	Skipped bool `json:"skipped"`
}

// Source turns the bundle document at a path of a git branch into draft
// bundles, one per commit.
type Source struct {
	repo   *Repository
	reg    Registry
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	scheduler *schedule.Scheduler
}

// NewSource creates a source reading path from repo.
func NewSource(repo *Repository, reg Registry, path string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		repo:   repo,
		reg:    reg,
		path:   path,
		logger: logger.With("component", "policy.gitsource"),
	}
}

// Sync pulls the branch and creates a draft from the document at HEAD. A
// commit that already produced a draft is skipped. The document's version
// is used when it is newer than every existing bundle.
func (s *Source) Sync(ctx context.Context, actor string) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.repo.Sync(ctx)
	if err != nil {
		return nil, err
	}
	res := &SyncResult{Commit: commit}
	source := SourcePrefix + commit.SHA
	for _, b := range s.reg.List() {
		if b.Source == source {
			res.Bundle = b
			res.Skipped = true
			return res, nil
		}
	}

	data, err := s.repo.ReadFile(commit.SHA, s.path)
	if err != nil {
		return nil, err
	}
	doc, err := policy.ParseDocument(data)
	if err != nil {
		return nil, err
	}

	b, err := s.reg.CreateDraft(ctx, registry.DraftRequest{
		Version:  doc.Version,
		Policies: doc.Policies,
		Actor:    actor,
		Source:   source,
	})
	if err != nil {
		return nil, err
	}
	res.Bundle = b

	s.logger.InfoContext(ctx, "draft created from git",
		"bundle_version", b.Version,
		"commit", shortSHA(commit.SHA),
		"author", commit.Author,
		"actor", actor,
	)
	return res, nil
}

// Poll syncs on a cron schedule until ctx is cancelled. Failed syncs are
// logged and retried on the next tick.
func (s *Source) Poll(ctx context.Context, spec string) error {
	sch, err := schedule.New("git-sync", spec, func(ctx context.Context) error {
		_, err := s.Sync(ctx, Actor)
		return err
	}, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.scheduler != nil {
		s.mu.Unlock()
		return errors.New("gitsource: already polling")
	}
	s.scheduler = sch
	s.mu.Unlock()
	return sch.Start(ctx)
}

// Stop ends polling.
func (s *Source) Stop() {
	s.mu.Lock()
	sch := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if sch != nil {
		sch.Stop()
	}
}
