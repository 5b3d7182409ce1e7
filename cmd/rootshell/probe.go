package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dmora/rootshell/shell"
	"github.com/spf13/cobra"
)

func newProbeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [COMMAND...]",
		Short: "Connect and report the session; optionally locate commands",
		Long: `Connect and report the session PID, mode and startup probe line. Each
COMMAND argument is looked up over the binary prefixes and the first
working form is printed.`,
		Example: `  rootshell probe
  rootshell probe --root mount losetup`,
		RunE: a.runProbe,
	}
}

func (a *app) runProbe(cmd *cobra.Command, args []string) error {
	sh, closeShell, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer closeShell()

	out := cmd.OutOrStdout()
	st := newStyles(out)
	info := sh.Info()
	mode := "user"
	if sh.IsRoot() {
		mode = "root"
	}
	writeField(out, st, "name", sh.Identity().Name)
	writeField(out, st, "mode", mode)
	writeField(out, st, "pid", strconv.Itoa(info.Pid))
	writeField(out, st, "state", info.State.String())
	writeField(out, st, "probe", info.ProbeLine)

	missing := 0
	for _, bin := range args {
		found, err := sh.FindCommand(cmd.Context(), bin)
		switch {
		case errors.Is(err, shell.ErrCommandNotFound):
			missing++
			writeField(out, st, bin, st.fail.Render("not found"))
		case err != nil:
			return err
		default:
			writeField(out, st, bin, st.ok.Render(found))
		}
	}
	if missing > 0 {
		return &exitError{code: 1}
	}
	fmt.Fprintln(out, st.ok.Render("ok"))
	return nil
}
