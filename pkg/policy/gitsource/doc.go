// Package gitsource loads draft bundles from a git repository, so policy
// changes can be reviewed as pull requests before they reach the registry.
//
// The repository holds one bundle document (YAML or JSON) at a configured
// path. Each sync pulls the tracked branch and, when HEAD has not been
// seen before, creates a draft from the document with Source set to
// "git:<commit sha>". Drafts still go through canary and promotion like any
// other bundle.
//
//	repo, err := gitsource.NewRepository(cfg.Git)
//	src := gitsource.NewSource(repo, reg, cfg.Git.Path, logger)
//	res, err := src.Sync(ctx, "alice")
package gitsource
