package health

import (
	"context"
	"errors"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingCheck reports the database reachable.
func PingCheck(db Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// ErrNoActiveBundle is reported while no policy bundle is active.
var ErrNoActiveBundle = errors.New("no active policy bundle")

// ActiveBundleCheck fails until hasActive reports an active bundle. Without
// one the governor proposes nothing.
func ActiveBundleCheck(hasActive func() bool) CheckFunc {
	return func(context.Context) error {
		if !hasActive() {
			return ErrNoActiveBundle
		}
		return nil
	}
}
