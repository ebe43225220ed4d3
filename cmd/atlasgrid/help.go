package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/atlasgrid/internal/ui"
	"github.com/spf13/cobra"
)

var (
	// Group and section titles such as "Views:" or "Flags:".
	helpHeading = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// "  spaces      List spaces ..." in a command listing.
	helpCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Value placeholder after a flag name, e.g. "--section string".
	helpFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|float|duration|strings)`)

	helpDefault = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc renders cobra's usage text and tints headings, command
// names and flag details when stdout is a color terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	s = helpHeading.ReplaceAllStringFunc(s, func(m string) string {
		return ui.RenderAccent(strings.TrimSpace(m))
	})
	s = helpCommand.ReplaceAllString(s, "$1"+ui.RenderCommand("$2")+"$3")
	s = helpFlagType.ReplaceAllString(s, "$1"+ui.RenderMuted("$2"))
	return helpDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}
