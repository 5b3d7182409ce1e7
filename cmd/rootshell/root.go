package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmora/rootshell/internal/config"
	"github.com/dmora/rootshell/internal/telemetry"
	"github.com/dmora/rootshell/session"
	"github.com/dmora/rootshell/shell"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// newSpawner builds the process spawner. Tests replace it with a fake.
var newSpawner = func(cfg config.Config) session.Spawner { return cfg.Spawner() }

// app is the state shared by all subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg      config.Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	closeLog func() error
	cancel   context.CancelFunc
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "rootshell",
		Short: "Run commands through a persistent sh or su session",
		Long: `rootshell keeps one sh (or su) process alive and frames every command
with sentinels, so output and exit codes come back intact while shell state
(working directory, exported variables) persists between commands.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./rootshell.{yaml,toml,json})")
	flags.Bool(config.KeyRoot, false, "Run the session through su instead of sh")
	flags.String(config.KeyName, "", "Shell name; sessions with the same name and mode are shared")
	flags.BoolP(config.KeyVerbose, "v", false, "Enable debug logging")
	flags.String("log-file", "", "Also write JSON logs to this file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	flags.String("connect-lock", "", "Lock file serializing spawns across processes")

	bind := map[string]string{
		config.KeyRoot:        config.KeyRoot,
		config.KeyName:        config.KeyName,
		config.KeyVerbose:     config.KeyVerbose,
		config.KeyLogFile:     "log-file",
		config.KeyMetricsAddr: "metrics-addr",
		config.KeyConnectLock: "connect-lock",
	}
	if err := bindFlags(a.v, flags, bind); err != nil {
		panic(err)
	}

	root.AddCommand(
		newExecCmd(a),
		newRunCmd(a),
		newReplCmd(a),
		newProbeCmd(a),
	)
	return root
}

// bindFlags binds each viper key to the named flag. A missing flag is a
// programming error.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bind map[string]string) error {
	for key, name := range bind {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("bind %s: no flag --%s", key, name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closeLog, err := telemetry.InitLogger(cmd.ErrOrStderr(), cfg.Verbose, cfg.LogFile)
	if err != nil {
		return err
	}
	a.logger, a.closeLog = logger, closeLog

	ctx, cancel := context.WithCancel(cmd.Context())
	a.cancel = cancel
	a.metrics = telemetry.NewMetrics()
	if cfg.MetricsAddr != "" {
		addr, err := a.metrics.StartMetricsServer(ctx, cfg.MetricsAddr)
		if err != nil {
			a.logger.Warn("metrics server not started", "addr", cfg.MetricsAddr, "error", err)
		} else {
			a.logger.Info("serving metrics", "addr", addr)
		}
	}
	return nil
}

func (a *app) teardown(*cobra.Command, []string) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeLog != nil {
		return a.closeLog()
	}
	return nil
}

// open connects the configured shell. The returned function closes it.
func (a *app) open(ctx context.Context) (*shell.Shell, func(), error) {
	opts := append(a.cfg.ShellOptions(a.logger), shell.WithListener(a.metrics))
	reg := shell.NewRegistry(newSpawner(a.cfg), opts...)
	sh, err := reg.Open(ctx, a.cfg.Name, a.cfg.Root)
	if err != nil {
		return nil, nil, err
	}
	return sh, func() {
		if err := sh.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Debug("closing shell", "error", err)
		}
	}, nil
}
