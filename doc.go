// Package jobhub is a single-process job orchestration hub. Clients submit
// work, the hub runs it in a bounded execution pool, streams status and
// process output to subscribers, and packages output files into archives.
//
// # Quick Start
//
//	s := memory.New()
//	h, err := hub.New(s,
//	    hub.WithConfig(cfg),
//	    hub.WithLogger(logger),
//	)
//	if err := h.Start(ctx); err != nil { ... }
//	j, err := h.Submit(ctx, owner, job.Spec{Command: []string{"make", "all"}})
//
// # Architecture
//
// The job store is the single source of truth. Every state change goes
// through its compare-and-transition primitive, which atomically appends a
// sequenced event. The stream broadcaster publishes those events to
// subscribers in sequence order, and the worker coordinator is the only
// writer of Running transitions.
//
// This root package holds the shared configuration and the error taxonomy
// used by every subsystem and by the transport adapters.
package jobhub
