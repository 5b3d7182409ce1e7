package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/internal/config"
	"github.com/dmora/rootshell/session"
	"github.com/dmora/rootshell/shelltest"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handler(_ bool, line string) (shelltest.Reply, bool) {
	switch line {
	case "hello":
		return shelltest.Reply{Output: "hello world\n"}, true
	case "fail":
		return shelltest.Reply{Output: "boom\n", Code: 3}, true
	case "busybox mount -h":
		return shelltest.Reply{Output: "usage: mount\n", Code: 1}, true
	case "busybox mount", "mount":
		return shelltest.Reply{Output: "/dev/root on / type ext4\n"}, true
	}
	return shelltest.Reply{}, false
}

// runCLI executes the root command against a fake spawner from an empty
// working directory.
func runCLI(t *testing.T, stdin string, args ...string) (*shelltest.Spawner, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	prevLogger := slog.Default()
	prevSpawner := newSpawner
	sp := &shelltest.Spawner{Handler: handler}
	newSpawner = func(config.Config) session.Spawner { return sp }
	t.Cleanup(func() {
		newSpawner = prevSpawner
		slog.SetDefault(prevLogger)
	})

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return sp, out.String(), err
}

func TestExec_FirstSuccessfulAttempt(t *testing.T) {
	sp, out, err := runCLI(t, "", "exec", "fail", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "[0]")
	assert.Contains(t, out, "attempt 1")
	assert.NotContains(t, out, "boom")
	assert.Equal(t, 1, sp.Spawns())
	assert.True(t, sp.Last().Exited(), "shell must be closed on exit")
}

func TestExec_FailureExitsNonZero(t *testing.T) {
	_, out, err := runCLI(t, "", "exec", "fail")
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.code)
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "[3]")
}

func TestExec_SuccessCodesFlag(t *testing.T) {
	_, _, err := runCLI(t, "", "exec", "--success-codes", "0,3", "fail")
	assert.NoError(t, err)

	_, _, err = runCLI(t, "", "exec", "--success-codes", "x", "fail")
	assert.Error(t, err)
}

func TestExec_Expand(t *testing.T) {
	sp, out, err := runCLI(t, "", "exec", "--expand", "mount")
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/root")
	assert.Equal(t, []string{"busybox mount"}, sp.Last().Commands())

	_, _, err = runCLI(t, "", "exec", "--expand", "a", "b")
	assert.Error(t, err)
}

func TestExec_JSON(t *testing.T) {
	_, out, err := runCLI(t, "", "exec", "--json", "hello")
	require.NoError(t, err)

	var res rootshell.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"hello world"}, res.Lines)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Success())
}

func TestExec_Root(t *testing.T) {
	_, out, err := runCLI(t, "", "--root", "exec", "id")
	require.NoError(t, err)
	assert.Contains(t, out, "uid=0(root)")
}

func TestRun_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batches.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = 1

[[batch]]
name = "greet"
command = "hello"

[[batch]]
name = "lenient"
command = "fail"
success_codes = [0, 3]

[[batch]]
name = "mounts"
command = "mount"
expand = true
`), 0o644))

	sp, out, err := runCLI(t, "", "run", "-f", path)
	require.NoError(t, err)
	greet := strings.Index(out, "== greet")
	lenient := strings.Index(out, "== lenient")
	mounts := strings.Index(out, "== mounts")
	require.True(t, greet >= 0 && lenient > greet && mounts > lenient, out)
	assert.Contains(t, out, "3/3 batches succeeded")
	assert.Equal(t, []string{"hello", "fail", "busybox mount"}, sp.Last().Commands())
}

func TestRun_FileJSONWithFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n[[batch]]\ncommand = \"fail\"\n"), 0o644))

	_, out, err := runCLI(t, "", "run", "--json", "-f", path)
	var ee *exitError
	require.ErrorAs(t, err, &ee)

	var outcomes []jobOutcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcomes))
	require.Len(t, outcomes, 1)
	assert.Equal(t, "#0", outcomes[0].Name)
	assert.Equal(t, 3, outcomes[0].Result.ExitCode)
}

func TestRun_RequiresFile(t *testing.T) {
	_, _, err := runCLI(t, "", "run")
	assert.Error(t, err)
}

func TestRepl(t *testing.T) {
	sp, out, err := runCLI(t, "hello\n\nfail\nexit\nhello\n", "repl")
	require.NoError(t, err)
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "[3]")
	assert.Equal(t, []string{"hello", "fail"}, sp.Last().Commands(), "input after exit is ignored")
}

func TestRepl_EOF(t *testing.T) {
	_, out, err := runCLI(t, "hello", "repl")
	require.NoError(t, err)
	assert.Contains(t, out, "hello world")
}

func TestProbe(t *testing.T) {
	_, out, err := runCLI(t, "", "--name", "device", "probe", "mount")
	require.NoError(t, err)
	assert.Contains(t, out, "device")
	assert.Contains(t, out, "user")
	assert.Contains(t, out, "busybox mount")
	assert.Contains(t, out, "ok")
}

func TestProbe_MissingCommand(t *testing.T) {
	_, out, err := runCLI(t, "", "probe", "nosuchtool")
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, out, "not found")
}

func TestConfigErrorsSurface(t *testing.T) {
	_, _, err := runCLI(t, "", "--config", "/nonexistent/rootshell.toml", "probe")
	assert.Error(t, err)
}

func TestNewRootCmd_BindsFlags(t *testing.T) {
	assert.NotPanics(t, func() { newRootCmd() })
}

func TestBindFlags_UnknownFlag(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-file", "", "")
	v := viper.New()

	require.NoError(t, bindFlags(v, flags, map[string]string{config.KeyLogFile: "log-file"}))
	err := bindFlags(v, flags, map[string]string{config.KeyMetricsAddr: "metrics-adr"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics-adr")
}
