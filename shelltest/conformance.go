package shelltest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/session"
)

// RunSpawnerTests tests the [session.Spawner] behavioral contract in user
// mode: the spawned process must speak the framing protocol, report exit
// codes, and die on Destroy. The factory is called once per subtest.
func RunSpawnerTests(t *testing.T, factory func() session.Spawner) {
	t.Helper()
	runExchange(t, factory)
	runLifecycle(t, factory)
}

func connect(t *testing.T, factory func() session.Spawner) *session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := session.Connect(ctx, factory(), false, session.WithGracePeriod(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Destroy(context.Background(), false) })
	return s
}

func exchange(t *testing.T, s *session.Session, attempt ...string) ([]string, int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	lines, code, err := s.Exchange(ctx, attempt)
	if err != nil {
		t.Fatalf("Exchange(%q): %v", attempt, err)
	}
	return lines, code
}

// runExchange tests framed round trips.
func runExchange(t *testing.T, factory func() session.Spawner) {
	t.Helper()

	t.Run("EchoRoundTrip", func(t *testing.T) {
		s := connect(t, factory)
		lines, code := exchange(t, s, "echo hello")
		if code != 0 {
			t.Errorf("code = %d, want 0", code)
		}
		if !slices.Equal(lines, []string{"hello"}) {
			t.Errorf("lines = %q, want [hello]", lines)
		}
	})

	t.Run("ExitCodes", func(t *testing.T) {
		s := connect(t, factory)
		if _, code := exchange(t, s, "true"); code != 0 {
			t.Errorf("true: code = %d, want 0", code)
		}
		if _, code := exchange(t, s, "false"); code != 1 {
			t.Errorf("false: code = %d, want 1", code)
		}
	})

	t.Run("NoOutput", func(t *testing.T) {
		s := connect(t, factory)
		lines, _ := exchange(t, s, "true")
		if len(lines) != 0 {
			t.Errorf("lines = %q, want none", lines)
		}
	})

	t.Run("LastLineDecidesCode", func(t *testing.T) {
		s := connect(t, factory)
		lines, code := exchange(t, s, "false", "echo after")
		if code != 0 {
			t.Errorf("code = %d, want 0 (status of last line)", code)
		}
		if !slices.Equal(lines, []string{"after"}) {
			t.Errorf("lines = %q, want [after]", lines)
		}
	})

	t.Run("SequentialExchanges", func(t *testing.T) {
		s := connect(t, factory)
		for _, word := range []string{"one", "two", "three"} {
			lines, _ := exchange(t, s, "echo "+word)
			if !slices.Equal(lines, []string{word}) {
				t.Fatalf("lines = %q, want [%s]", lines, word)
			}
		}
	})
}

// runLifecycle tests liveness and teardown.
func runLifecycle(t *testing.T, factory func() session.Spawner) {
	t.Helper()

	t.Run("AliveAfterConnect", func(t *testing.T) {
		s := connect(t, factory)
		if !s.IsAlive() {
			t.Error("session should be alive after Connect")
		}
		if s.Pid() <= 0 {
			t.Errorf("Pid() = %d, want > 0", s.Pid())
		}
	})

	t.Run("GracefulDestroy", func(t *testing.T) {
		s := connect(t, factory)
		if err := s.Destroy(context.Background(), true); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
		if s.IsAlive() {
			t.Error("session alive after Destroy")
		}
		select {
		case <-s.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("Done not closed after Destroy")
		}
	})

	t.Run("DestroyIdempotent", func(t *testing.T) {
		s := connect(t, factory)
		err1 := s.Destroy(context.Background(), false)
		err2 := s.Destroy(context.Background(), true)
		if err1 != err2 {
			t.Errorf("second Destroy = %v, want %v", err2, err1)
		}
	})

	t.Run("WriteAfterDestroy", func(t *testing.T) {
		s := connect(t, factory)
		_ = s.Destroy(context.Background(), false)
		if err := s.Write([]byte("true\n")); !errors.Is(err, rootshell.ErrClosed) {
			t.Errorf("Write after Destroy = %v, want ErrClosed", err)
		}
	})
}
