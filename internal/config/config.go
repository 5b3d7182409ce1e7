// Package config loads rootshell CLI configuration from flags, environment,
// an optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/session"
	"github.com/dmora/rootshell/shell"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ROOTSHELL_ROOT.
const EnvPrefix = "ROOTSHELL"

// Keys understood by Load.
const (
	KeyName           = "name"
	KeyRoot           = "root"
	KeyShell          = "shell"
	KeySu             = "su"
	KeyDir            = "dir"
	KeyTimeout        = "timeout"
	KeyLockTimeout    = "lock_timeout"
	KeyConnectRetries = "connect_retries"
	KeyConnectLock    = "connect_lock"
	KeyBinaries       = "binaries"
	KeySuccessCodes   = "success_codes"
	KeyUniqueSentinel = "unique_sentinel"
	KeyVerbose        = "verbose"
	KeyLogFile        = "log_file"
	KeyMetricsAddr    = "metrics_addr"
	KeyEnvFile        = "env_file"
)

// Config is the resolved CLI configuration.
type Config struct {
	Name           string
	Root           bool
	Shell          string
	Su             string
	Dir            string
	Timeout        time.Duration
	LockTimeout    time.Duration
	ConnectRetries int
	ConnectLock    string
	Binaries       []string
	SuccessCodes   rootshell.SuccessSet
	UniqueSentinel bool
	Verbose        bool
	LogFile        string
	MetricsAddr    string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyName, "default")
	v.SetDefault(KeyRoot, false)
	v.SetDefault(KeyShell, session.DefaultShell)
	v.SetDefault(KeySu, session.DefaultSu)
	v.SetDefault(KeyTimeout, "15s")
	v.SetDefault(KeyLockTimeout, "0s")
	v.SetDefault(KeyConnectRetries, 2)
	v.SetDefault(KeyBinaries, strings.Join(rootshell.DefaultBinaries, ","))
	v.SetDefault(KeySuccessCodes, "0")
	v.SetDefault(KeyUniqueSentinel, false)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyEnvFile, ".env")
}

// Load reads configuration into v and resolves it. cfgFile, when set,
// must exist; otherwise rootshell.{yaml,toml,json} in the working
// directory is used if present. Flags must already be bound to v.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The .env file only fills variables not already in the environment.
	if envFile := v.GetString(KeyEnvFile); envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", envFile, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rootshell")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	} else {
		slog.Debug("using config file", "path", v.ConfigFileUsed())
	}

	return resolve(v)
}

func resolve(v *viper.Viper) (Config, error) {
	var errs []error
	cfg := Config{
		Name:           strings.TrimSpace(v.GetString(KeyName)),
		Root:           v.GetBool(KeyRoot),
		Shell:          v.GetString(KeyShell),
		Su:             v.GetString(KeySu),
		Dir:            v.GetString(KeyDir),
		ConnectRetries: v.GetInt(KeyConnectRetries),
		ConnectLock:    v.GetString(KeyConnectLock),
		Binaries:       stringList(v.Get(KeyBinaries)),
		UniqueSentinel: v.GetBool(KeyUniqueSentinel),
		Verbose:        v.GetBool(KeyVerbose),
		LogFile:        v.GetString(KeyLogFile),
		MetricsAddr:    v.GetString(KeyMetricsAddr),
	}

	var err error
	if cfg.Timeout, err = duration(v.Get(KeyTimeout)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyTimeout, err))
	}
	if cfg.LockTimeout, err = duration(v.Get(KeyLockTimeout)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLockTimeout, err))
	}
	if cfg.SuccessCodes, err = rootshell.ParseSuccessCodes(v.GetString(KeySuccessCodes)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var problems []string
	if c.Name == "" {
		problems = append(problems, "name must not be empty")
	}
	if c.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("timeout must be positive, got: %v", c.Timeout))
	}
	if c.LockTimeout < 0 {
		problems = append(problems, fmt.Sprintf("lock_timeout must not be negative, got: %v", c.LockTimeout))
	}
	if c.ConnectRetries <= 0 {
		problems = append(problems, fmt.Sprintf("connect_retries must be positive, got: %d", c.ConnectRetries))
	}
	if c.Shell == "" || c.Su == "" {
		problems = append(problems, "shell and su must not be empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Spawner returns the process spawner described by c.
func (c Config) Spawner() *session.ExecSpawner {
	return &session.ExecSpawner{Shell: c.Shell, Su: c.Su, Dir: c.Dir}
}

// ShellOptions converts c into shell construction options.
func (c Config) ShellOptions(logger *slog.Logger) []shell.Option {
	opts := []shell.Option{
		shell.WithConnectRetries(c.ConnectRetries),
		shell.WithBinaries(c.Binaries),
		shell.WithLogger(logger),
		shell.WithExecDefaults(c.ExecOptions()...),
	}
	if c.ConnectLock != "" {
		opts = append(opts, shell.WithConnectLock(c.ConnectLock))
	}
	if c.UniqueSentinel {
		opts = append(opts, shell.WithUniqueSentinel())
	}
	return opts
}

// ExecOptions returns the per-batch defaults described by c.
func (c Config) ExecOptions() []rootshell.ExecOption {
	return []rootshell.ExecOption{
		rootshell.WithReadTimeout(c.Timeout),
		rootshell.WithLockTimeout(c.LockTimeout),
		rootshell.WithSuccessSet(c.SuccessCodes),
	}
}

// duration accepts Go duration strings and bare numbers of seconds.
func duration(raw any) (time.Duration, error) {
	switch x := raw.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return x, nil
	case int:
		return time.Duration(x) * time.Second, nil
	case int64:
		return time.Duration(x) * time.Second, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		return time.ParseDuration(s)
	}
	return 0, fmt.Errorf("unsupported duration value %v", raw)
}

// stringList accepts a list or a comma separated string. Empty entries
// are kept: "busybox,toolbox," ends with the bare prefix.
func stringList(raw any) []string {
	switch x := raw.(type) {
	case nil:
		return nil
	case string:
		parts := strings.Split(x, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, strings.TrimSpace(fmt.Sprint(e)))
		}
		return out
	}
	return []string{fmt.Sprint(raw)}
}
