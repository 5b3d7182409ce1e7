// Package session owns one spawned shell process and the streams used to
// talk to it.
//
// A [Session] is created by [Connect], which spawns the process through a
// [Spawner], starts a reader goroutine that turns stdout into lines, and
// runs a liveness probe. Root sessions must report uid=0 before they are
// handed out.
//
// Session does no locking across commands. Callers that share a session
// must serialize whole framed exchanges themselves; package shell does
// that with its Executor.
package session
