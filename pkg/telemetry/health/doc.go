// Package health provides liveness and readiness probes for the operator API.
//
// Liveness only reports that the process is running. Readiness runs every
// registered check concurrently with a per-check timeout:
//
//	checker := health.New(5*time.Second, nil)
//	checker.RegisterCheck("database", health.PingCheck(db))
//	checker.RegisterCheck("active_bundle", health.ActiveBundleCheck(registry.HasActive))
//
//	router.Get("/healthz", checker.LivenessHandler())
//	router.Get("/readyz", checker.ReadinessHandler())
package health
