// Package middleware wraps each job attempt with cross-cutting behavior.
//
// The coordinator runs every attempt through one [Chain]; the first
// middleware is the outermost:
//
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Logging(logger),
//	)
//
// [Classify] maps an attempt's result and context cause to an [Outcome]
// (ok, error, timeout, cancelled, interrupted), which the logging,
// tracing and metrics middleware all report the same way.
package middleware
