// Package job defines the job entity, its spec, and the lifecycle state
// machine.
//
// # Lifecycle
//
// A [Job] is created Queued and moves only forward:
//
//	queued  → running → succeeded
//	queued  → running → failed
//	queued  → running → cancelled
//	queued  → cancelled
//
// Terminal states (succeeded, failed, cancelled) have no outgoing edges.
// [CanTransition] is the single definition of the edge set, and [Apply]
// is the single implementation of how a transition's [Patch] lands on a
// record. Every store backend routes mutations through both.
//
// # Retries
//
// A failed attempt is never reopened. When a retry is scheduled the failed
// record points forward through RetriedBy and the new record points back
// through RetryOf, with Attempt incremented.
package job
