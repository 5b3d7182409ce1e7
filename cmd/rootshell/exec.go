package main

import (
	"fmt"
	"time"

	"github.com/dmora/rootshell"
	"github.com/spf13/cobra"
)

type execFlags struct {
	successCodes string
	timeout      time.Duration
	expand       bool
	json         bool
}

func newExecCmd(a *app) *cobra.Command {
	var f execFlags
	cmd := &cobra.Command{
		Use:   "exec ATTEMPT...",
		Short: "Run one batch; each argument is an alternative attempt",
		Long: `Run one batch. Each argument is one attempt, tried in order until one
exits with a success code. With --expand, the single argument is expanded
over the configured binary prefixes (busybox, toolbox, bare).`,
		Example: `  rootshell exec 'busybox ls /data' 'ls /data'
  rootshell exec --expand 'mount'
  rootshell exec --root --success-codes 0,1 'grep -q foo /etc/hosts'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExec(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.successCodes, "success-codes", "", "Comma separated exit codes treated as success (default from config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Per-attempt reply timeout (default from config)")
	cmd.Flags().BoolVar(&f.expand, "expand", false, "Expand a single command over the binary prefixes")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the result as JSON")
	return cmd
}

func (a *app) runExec(cmd *cobra.Command, args []string, f execFlags) error {
	var batch rootshell.Batch
	if f.expand {
		if len(args) != 1 {
			return fmt.Errorf("--expand takes exactly one command, got %d", len(args))
		}
		batch = rootshell.Expand(args[0], a.cfg.Binaries)
	} else {
		batch = rootshell.Commands(args...)
	}

	var opts []rootshell.ExecOption
	if f.successCodes != "" {
		set, err := rootshell.ParseSuccessCodes(f.successCodes)
		if err != nil {
			return err
		}
		opts = append(opts, rootshell.WithSuccessSet(set))
	}
	if f.timeout > 0 {
		opts = append(opts, rootshell.WithReadTimeout(f.timeout))
	}

	sh, closeShell, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer closeShell()

	res, err := sh.Execute(cmd.Context(), batch, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.json {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		writeResult(out, newStyles(out), res)
	}
	if !res.Success() {
		return &exitError{code: 1}
	}
	return nil
}
