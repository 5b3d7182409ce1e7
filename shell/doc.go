// Package shell shares one persistent shell session between many callers.
//
// A [Shell] handle combines four parts:
//
//   - Supervisor owns the session, connects with retries, reconnects once
//     when the session dies, and defers teardown while pinned
//   - Executor serializes whole batches onto the session and walks each
//     batch's attempts until one succeeds
//   - Scheduler runs batches asynchronously in submission order on a
//     single worker
//   - Registry hands out named handles so independent callers share one
//     session per (name, root) identity
//
// Only the owner handle may tear a shared session down. Handles obtained
// as clones from a [Registry] just stop using it when closed.
package shell
