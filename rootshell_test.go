package rootshell

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

func TestResolveExecOptions_Zero(t *testing.T) {
	got := ResolveExecOptions()
	if got.LockTimeout != 0 || got.ReadTimeout != 0 || got.Validator != nil {
		t.Fatalf("zero opts: want zero ExecOptions, got %+v", got)
	}
	if !got.SuccessCodes.Contains(0) {
		t.Fatal("zero SuccessCodes should admit 0")
	}
}

func TestResolveExecOptions_LastWriterWins(t *testing.T) {
	got := ResolveExecOptions(
		WithReadTimeout(time.Second),
		WithReadTimeout(0),
	)
	if got.ReadTimeout != 0 {
		t.Fatalf("want last-writer-wins ReadTimeout=0, got %v", got.ReadTimeout)
	}
}

func TestResolveExecOptions_NilOptionSkipped(t *testing.T) {
	got := ResolveExecOptions(nil, WithLockTimeout(3*time.Second), nil)
	if got.LockTimeout != 3*time.Second {
		t.Fatalf("want LockTimeout=3s, got %v", got.LockTimeout)
	}
}

func TestWithSuccessCodes(t *testing.T) {
	got := ResolveExecOptions(WithSuccessCodes(1, 130))
	if got.SuccessCodes.Contains(0) {
		t.Fatal("explicit set {1,130} should not admit 0")
	}
	if !got.SuccessCodes.Contains(130) {
		t.Fatal("want 130 admitted")
	}
}

func TestWithValidator(t *testing.T) {
	called := false
	got := ResolveExecOptions(WithValidator(func(Attempt, int, []string) bool {
		called = true
		return true
	}))
	if got.Validator == nil {
		t.Fatal("validator not installed")
	}
	got.Validator(nil, 1, nil)
	if !called {
		t.Fatal("validator not invoked")
	}
}

// ---------------------------------------------------------------------------
// SuccessSet
// ---------------------------------------------------------------------------

func TestSuccessSet_ZeroValue(t *testing.T) {
	var s SuccessSet
	if !s.Contains(0) {
		t.Fatal("zero value should contain 0")
	}
	if s.Contains(1) {
		t.Fatal("zero value should not contain 1")
	}
	if !slices.Equal(s.Codes(), []int{0}) {
		t.Fatalf("Codes() = %v, want [0]", s.Codes())
	}
}

func TestSuccessSet_SortedDeduplicated(t *testing.T) {
	s := NewSuccessSet(130, 1, 1, 0)
	if want := []int{0, 1, 130}; !slices.Equal(s.Codes(), want) {
		t.Fatalf("Codes() = %v, want %v", s.Codes(), want)
	}
	if s.String() != "0,1,130" {
		t.Fatalf("String() = %q", s.String())
	}
}

func TestSuccessSet_WithDoesNotMutate(t *testing.T) {
	base := NewSuccessSet(0)
	ext := base.With(2)
	if base.Contains(2) {
		t.Fatal("With mutated the receiver")
	}
	if !ext.Contains(2) || !ext.Contains(0) {
		t.Fatalf("extended set = %v", ext.Codes())
	}
}

func TestSuccessSet_CodesReturnsCopy(t *testing.T) {
	s := NewSuccessSet(3, 4)
	c := s.Codes()
	c[0] = 99
	if s.Contains(99) {
		t.Fatal("Codes() exposed internal storage")
	}
}

func TestSuccessSet_JSON(t *testing.T) {
	data, err := json.Marshal(NewSuccessSet(2, 0))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[0,2]" {
		t.Fatalf("marshal = %s, want [0,2]", data)
	}
	var s SuccessSet
	if err := json.Unmarshal([]byte("[5,1]"), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !s.Contains(5) || !s.Contains(1) || s.Contains(0) {
		t.Fatalf("unmarshal = %v", s.Codes())
	}
}

func TestParseSuccessCodes(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "", want: []int{0}},
		{in: "  ", want: []int{0}},
		{in: "0,130", want: []int{0, 130}},
		{in: " 1 , 2 ,", want: []int{1, 2}},
		{in: "abc", wantErr: true},
		{in: "256", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "0\x00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := ParseSuccessCodes(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("want error, got %v", got.Codes())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(got.Codes(), tt.want) {
				t.Fatalf("got %v, want %v", got.Codes(), tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Batch / Result
// ---------------------------------------------------------------------------

func TestBatch_Validate(t *testing.T) {
	if err := Batch(nil).Validate(); !errors.Is(err, ErrInvalidAttempt) {
		t.Fatalf("empty batch: want ErrInvalidAttempt, got %v", err)
	}
	if err := NewBatch(Attempt{"ls"}, Attempt{}).Validate(); !errors.Is(err, ErrInvalidAttempt) {
		t.Fatalf("empty attempt: want ErrInvalidAttempt, got %v", err)
	}
	if err := Commands("ls", "id").Validate(); err != nil {
		t.Fatalf("valid batch: %v", err)
	}
}

func TestBatch_CloneIsDeep(t *testing.T) {
	orig := NewBatch(Attempt{"a", "b"})
	c := orig.Clone()
	orig[0][0] = "mutated"
	if c[0][0] != "a" {
		t.Fatalf("clone shares storage: %v", c)
	}
}

func TestResult_Helpers(t *testing.T) {
	r := Result{Lines: []string{"one", "two", "", "  "}, ExitCode: 0}
	if !r.Success() {
		t.Fatal("code 0 with zero set should succeed")
	}
	if r.Line() != "two" {
		t.Fatalf("Line() = %q, want two", r.Line())
	}
	if r.Output() != "one\ntwo\n\n  " {
		t.Fatalf("Output() = %q", r.Output())
	}
	if (Result{}).Line() != "" {
		t.Fatal("empty result Line() should be empty")
	}
	if (Result{ExitCode: UnknownExitCode}).Success() {
		t.Fatal("unknown code should not succeed against {0}")
	}
}

// ---------------------------------------------------------------------------
// Expand
// ---------------------------------------------------------------------------

func TestExpand_Placeholder(t *testing.T) {
	got := Expand("ls %binary -l", []string{"busybox", ""})
	want := Batch{{"ls busybox -l"}, {"ls -l"}}
	if !batchEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpand_PrefixWhenNoPlaceholder(t *testing.T) {
	got := Expand("df /data", nil)
	want := Batch{{"busybox df /data"}, {"toolbox df /data"}, {"df /data"}}
	if !batchEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpand_MultiplePlaceholders(t *testing.T) {
	got := Expand("%binary cat f | %binary wc -l", []string{"busybox"})
	want := Batch{{"busybox cat f | busybox wc -l"}}
	if !batchEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Errors / listeners
// ---------------------------------------------------------------------------

func TestBatchError_Unwrap(t *testing.T) {
	err := fmt.Errorf("exec: %w", &BatchError{Attempt: 2, Err: ErrTimeout})
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("BatchError should unwrap to its cause")
	}
	idx, ok := FailedAttempt(err)
	if !ok || idx != 2 {
		t.Fatalf("FailedAttempt = (%d, %v), want (2, true)", idx, ok)
	}
	if _, ok := FailedAttempt(ErrClosed); ok {
		t.Fatal("FailedAttempt on plain error should be false")
	}
}

func TestListenerFuncs_NilFieldsSafe(t *testing.T) {
	var l Listener = ListenerFuncs{}
	l.OnConnected()
	l.OnDisconnected(errors.New("x"))
	l.OnCommandResult(Result{})

	var got []string
	l = ListenerFuncs{
		Connected:     func() { got = append(got, "up") },
		Disconnected:  func(error) { got = append(got, "down") },
		CommandResult: func(Result) { got = append(got, "result") },
	}
	l.OnConnected()
	l.OnCommandResult(Result{})
	l.OnDisconnected(nil)
	if want := []string{"up", "result", "down"}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func batchEqual(a, b Batch) bool {
	return slices.EqualFunc(a, b, func(x, y Attempt) bool { return slices.Equal(x, y) })
}
