package rootshell

import "strings"

// BinaryPlaceholder marks where a multi-call binary prefix is substituted
// by Expand.
const BinaryPlaceholder = "%binary "

// DefaultBinaries is the prefix order used by Expand: busybox, then
// toolbox, then the bare command.
var DefaultBinaries = []string{"busybox", "toolbox", ""}

// Expand builds one attempt per binary prefix from a command template.
// Every occurrence of BinaryPlaceholder is replaced by "<binary> ", or by
// nothing for the empty binary. A command without the placeholder is
// treated as if it started with one. Nil binaries means DefaultBinaries.
func Expand(command string, binaries []string) Batch {
	if binaries == nil {
		binaries = DefaultBinaries
	}
	if !strings.Contains(command, BinaryPlaceholder) {
		command = BinaryPlaceholder + command
	}
	b := make(Batch, 0, len(binaries))
	for _, bin := range binaries {
		prefix := ""
		if bin != "" {
			prefix = bin + " "
		}
		b = append(b, Attempt{strings.ReplaceAll(command, BinaryPlaceholder, prefix)})
	}
	return b
}
