package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmora/rootshell"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray rootshell.*
// or .env file is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Name)
	assert.False(t, cfg.Root)
	assert.Equal(t, "sh", cfg.Shell)
	assert.Equal(t, "su", cfg.Su)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Zero(t, cfg.LockTimeout)
	assert.Equal(t, 2, cfg.ConnectRetries)
	assert.Equal(t, rootshell.DefaultBinaries, cfg.Binaries)
	assert.Equal(t, []int{0}, cfg.SuccessCodes.Codes())
}

func TestLoad_Env(t *testing.T) {
	inTempDir(t)
	t.Setenv("ROOTSHELL_ROOT", "true")
	t.Setenv("ROOTSHELL_TIMEOUT", "30")
	t.Setenv("ROOTSHELL_LOCK_TIMEOUT", "250ms")
	t.Setenv("ROOTSHELL_BINARIES", "toybox,")
	t.Setenv("ROOTSHELL_SUCCESS_CODES", "0,130")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.True(t, cfg.Root)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"toybox", ""}, cfg.Binaries)
	assert.True(t, cfg.SuccessCodes.Contains(130))
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "device"
timeout = 5
connect_retries = 4
binaries = ["busybox", ""]
unique_sentinel = true
`), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "device", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.ConnectRetries)
	assert.Equal(t, []string{"busybox", ""}, cfg.Binaries)
	assert.True(t, cfg.UniqueSentinel)
}

func TestLoad_DiscoversConfigInWorkingDir(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rootshell.yaml"), []byte("shell: bash\n"), 0o644))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "bash", cfg.Shell)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := inTempDir(t)
	_, err := Load(viper.New(), filepath.Join(dir, "absent.toml"))
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ROOTSHELL_NAME=fromenvfile\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ROOTSHELL_NAME") })

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "fromenvfile", cfg.Name)
}

func TestLoad_FlagsWin(t *testing.T) {
	inTempDir(t)
	t.Setenv("ROOTSHELL_SHELL", "zsh")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(KeyShell, "", "")
	fs.Duration(KeyTimeout, 0, "")
	require.NoError(t, fs.Parse([]string{"--shell=dash", "--timeout=2s"}))

	v := viper.New()
	require.NoError(t, v.BindPFlag(KeyShell, fs.Lookup(KeyShell)))
	require.NoError(t, v.BindPFlag(KeyTimeout, fs.Lookup(KeyTimeout)))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "dash", cfg.Shell)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"negative retries", map[string]string{"ROOTSHELL_CONNECT_RETRIES": "-1"}},
		{"zero timeout", map[string]string{"ROOTSHELL_TIMEOUT": "0"}},
		{"bad duration", map[string]string{"ROOTSHELL_TIMEOUT": "soon"}},
		{"bad success codes", map[string]string{"ROOTSHELL_SUCCESS_CODES": "0,x"}},
		{"empty name", map[string]string{"ROOTSHELL_NAME": " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inTempDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(viper.New(), "")
			assert.Error(t, err)
		})
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg := Config{
		Shell:          "sh",
		Su:             "su",
		Dir:            "/tmp",
		Timeout:        time.Second,
		ConnectRetries: 1,
		ConnectLock:    "/tmp/lock",
		UniqueSentinel: true,
		SuccessCodes:   rootshell.NewSuccessSet(0, 1),
	}
	sp := cfg.Spawner()
	assert.Equal(t, "/tmp", sp.Dir)
	assert.Equal(t, "su", sp.Binary(true))

	assert.Len(t, cfg.ShellOptions(nil), 6)

	o := rootshell.ResolveExecOptions(cfg.ExecOptions()...)
	assert.Equal(t, time.Second, o.ReadTimeout)
	assert.True(t, o.SuccessCodes.Contains(1))
}
