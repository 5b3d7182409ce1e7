package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dmora/rootshell"
)

// Color palette
var (
	colorOK    = lipgloss.Color("76")  // green
	colorFail  = lipgloss.Color("196") // red
	colorMuted = lipgloss.Color("242") // gray
	colorTitle = lipgloss.Color("12")
)

// styles are bound to one writer so color detection follows that writer.
type styles struct {
	ok    lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
	title lipgloss.Style
	label lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:    r.NewStyle().Foreground(colorOK).Bold(true),
		fail:  r.NewStyle().Foreground(colorFail).Bold(true),
		muted: r.NewStyle().Foreground(colorMuted),
		title: r.NewStyle().Foreground(colorTitle).Bold(true),
		label: r.NewStyle().Foreground(colorMuted).Width(10),
	}
}

// status renders the trailer printed after a result's output.
func (s styles) status(res rootshell.Result) string {
	code := fmt.Sprintf("[%d]", res.ExitCode)
	if res.ExitCode == rootshell.UnknownExitCode {
		code = "[?]"
	}
	style := s.fail
	if res.Success() {
		style = s.ok
	}
	detail := fmt.Sprintf("attempt %d, %s", res.Attempt, res.Duration.Round(time.Millisecond))
	return style.Render(code) + " " + s.muted.Render(detail)
}

func writeResult(out io.Writer, st styles, res rootshell.Result) {
	for _, line := range res.Lines {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, st.status(res))
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeField(out io.Writer, st styles, label, value string) {
	fmt.Fprintln(out, st.label.Render(label)+strings.TrimSpace(value))
}
