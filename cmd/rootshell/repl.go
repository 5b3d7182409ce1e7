package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/dmora/rootshell"
	"github.com/spf13/cobra"
)

func newReplCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Read command lines from stdin and run each in the same session",
		Long: `Read command lines from stdin. Each line runs as a one-attempt batch in
the same persistent session, so cd and export carry over. Type exit or
send EOF to quit.`,
		Args: cobra.NoArgs,
		RunE: a.runRepl,
	}
}

func (a *app) runRepl(cmd *cobra.Command, _ []string) error {
	sh, closeShell, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer closeShell()

	out := cmd.OutOrStdout()
	st := newStyles(out)
	prompt := st.title.Render("$ ")
	if sh.IsRoot() {
		prompt = st.fail.Render("# ")
	}

	sc := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, prompt)
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := sh.Run(cmd.Context(), line)
		switch {
		case errors.Is(err, rootshell.ErrClosed), cmd.Context().Err() != nil:
			return err
		case err != nil:
			// The session is replaced on the next line.
			fmt.Fprintln(out, st.fail.Render("error: ")+err.Error())
			continue
		}
		writeResult(out, st, res)
	}
}
