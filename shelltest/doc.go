// Package shelltest provides a scripted fake shell and conformance suites
// for [session.Spawner] implementations.
//
// [Spawner] starts in-memory processes that understand just enough shell
// to speak the framing protocol: `echo`, `NAME=$?`, `exit`, `true` and
// `false`. Every other command line is answered by a [Handler], which can
// also make the process hang or crash to exercise recovery paths.
//
// Example usage in a test file:
//
//	func TestSpawnerConformance(t *testing.T) {
//	    shelltest.RunSpawnerTests(t, func() session.Spawner {
//	        return &session.ExecSpawner{}
//	    })
//	}
package shelltest
