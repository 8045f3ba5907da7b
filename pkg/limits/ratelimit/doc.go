// Package ratelimit throttles executor attempts per action type.
//
// Mail providers meter their APIs, so each action type can carry a token
// bucket (sustained rate plus burst) and a concurrency cap:
//
//	limiter := ratelimit.New(cfg.Executor.RateLimits)
//	release, waited, err := limiter.Wait(ctx, "archive")
//	if err != nil {
//	    return err // ErrLimited or the context's error
//	}
//	defer release()
//
// Wait reserves a token up front and sleeps until it is due. A reservation
// that cannot be honored before the context deadline fails immediately with
// ErrLimited instead of sleeping into the timeout. Action types without a
// configured limit pass straight through.
package ratelimit
