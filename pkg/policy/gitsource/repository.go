package gitsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"jobmail-hq/governor/pkg/config"
)

// CommitInfo describes the commit a document was read from.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Repository is a local clone tracking one branch.
type Repository struct {
	cfg  config.GitConfig
	auth AuthProvider

	mu   sync.Mutex
	repo *gogit.Repository
}

// NewRepository validates cfg. Nothing touches the network until Sync.
func NewRepository(cfg config.GitConfig) (*Repository, error) {
	if cfg.Repository == "" {
		return nil, errors.New("git repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		cfg.Branch = config.DefaultGitBranch
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = config.DefaultGitLocalPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultGitTimeout
	}
	auth, err := NewAuthProvider(cfg.Auth)
	if err != nil {
		return nil, err
	}
	return &Repository{cfg: cfg, auth: auth}, nil
}

// Sync clones the repository on first use, or opens an existing clone,
// then pulls the tracked branch. It returns the new HEAD.
func (r *Repository) Sync(ctx context.Context) (*CommitInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	auth, err := r.auth.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("git auth: %w", err)
	}

	if r.repo == nil {
		if err := r.openOrClone(ctx, auth); err != nil {
			return nil, err
		}
	} else if err := r.pull(ctx, auth); err != nil {
		return nil, err
	}
	return r.head()
}

func (r *Repository) openOrClone(ctx context.Context, auth transport.AuthMethod) error {
	if _, err := os.Stat(filepath.Join(r.cfg.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.cfg.LocalPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", r.cfg.LocalPath, err)
		}
		r.repo = repo
		return r.pull(ctx, auth)
	}

	if err := os.MkdirAll(r.cfg.LocalPath, 0o755); err != nil {
		return fmt.Errorf("create clone directory: %w", err)
	}
	repo, err := gogit.PlainCloneContext(ctx, r.cfg.LocalPath, false, &gogit.CloneOptions{
		URL:           r.cfg.Repository,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Depth:         r.cfg.Depth,
	})
	if err != nil {
		return fmt.Errorf("clone %s: %w", r.cfg.Repository, err)
	}
	r.repo = repo
	return nil
}

// pull never forces; a diverged clone is an error for the operator.
func (r *Repository) pull(ctx context.Context, auth transport.AuthMethod) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull %s: %w", r.cfg.Repository, err)
	}
	return nil
}

func (r *Repository) head() (*CommitInfo, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("read HEAD: %w", err)
	}
	c, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", ref.Hash(), err)
	}
	return &CommitInfo{
		SHA:       c.Hash.String(),
		Author:    c.Author.Name,
		Email:     c.Author.Email,
		Timestamp: c.Author.When,
		Message:   c.Message,
	}, nil
}

// ReadFile returns the content of path as committed at sha. Reading from
// the object store ignores local edits to the working tree.
func (r *Repository) ReadFile(sha, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.repo == nil {
		return nil, errors.New("repository not synced")
	}
	c, err := r.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", sha, err)
	}
	f, err := c.File(filepath.ToSlash(path))
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", path, shortSHA(sha), err)
	}
	s, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
