package registry

import "errors"

var (
	// ErrGatesFailed is the cause of a promotion refused by quality gates.
	ErrGatesFailed = errors.New("quality gates not met")

	// ErrSoakIncomplete is the cause of a promotion attempted before the
	// bundle has spent the soak time in its stage.
	ErrSoakIncomplete = errors.New("soak time not elapsed")

	// ErrNoActive is the cause of a canary created while no bundle is
	// active.
	ErrNoActive = errors.New("no active bundle")
)
