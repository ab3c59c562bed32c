// Package workflow implements the graph execution runtime: given a graph
// and a firing trigger it walks the reachable subgraph concurrently,
// applying branch and merge semantics, and cooperates with the broker and
// the variable store to pass node outputs downstream.
//
// Each trigger firing creates an execution with its own bookkeeping
// (completed set, merge counters, stop flags, active-task count) guarded by
// a single per-execution lock. Node processing fans out through a bounded
// goroutine pool; a node with multiple incoming links fires exactly once,
// after the last contributing branch arrives. Run-scoped variables are
// purged by whichever task brings the execution's active-task count back
// to zero.
package workflow
