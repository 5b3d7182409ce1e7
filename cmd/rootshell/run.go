package main

import (
	"fmt"
	"sync"

	"github.com/dmora/rootshell"
	"github.com/dmora/rootshell/internal/batchfile"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		file     string
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "run -f FILE",
		Short: "Run every batch of a TOML batch file in order",
		Example: `  rootshell run -f batches.toml
  rootshell run --root -f checks.toml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runFile(cmd, file, jsonMode)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Batch file to run")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Print results as a JSON array")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// jobOutcome is the JSON form of one batch of a file run.
type jobOutcome struct {
	Name   string            `json:"name"`
	Result *rootshell.Result `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func (a *app) runFile(cmd *cobra.Command, path string, jsonMode bool) error {
	f, err := batchfile.Load(path)
	if err != nil {
		return err
	}
	jobs, err := f.Jobs(a.cfg.Binaries)
	if err != nil {
		return err
	}

	sh, closeShell, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer closeShell()

	outcomes := make([]jobOutcome, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		outcomes[i].Name = j.Name
		wg.Add(1)
		_, err := sh.ExecuteAsync(cmd.Context(), j.Batch, func(res rootshell.Result, err error) {
			defer wg.Done()
			if err != nil {
				outcomes[i].Error = err.Error()
				return
			}
			outcomes[i].Result = &res
		}, j.Options...)
		if err != nil {
			wg.Done()
			outcomes[i].Error = err.Error()
		}
	}
	wg.Wait()

	out := cmd.OutOrStdout()
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" || !o.Result.Success() {
			failed++
		}
	}
	if jsonMode {
		if err := writeJSON(out, outcomes); err != nil {
			return err
		}
	} else {
		st := newStyles(out)
		for _, o := range outcomes {
			fmt.Fprintln(out, st.title.Render("== "+o.Name))
			if o.Error != "" {
				fmt.Fprintln(out, st.fail.Render("error: ")+o.Error)
				continue
			}
			writeResult(out, st, *o.Result)
		}
		fmt.Fprintln(out, st.muted.Render(fmt.Sprintf("%d/%d batches succeeded", len(outcomes)-failed, len(outcomes))))
	}
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}
