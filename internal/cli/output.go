package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

// render writes v as JSON when --json is set, otherwise hands rows to
// tableFunc for a human-readable table. tableFunc may be nil, in which
// case plain output falls back to JSON too (used by commands whose result
// has no natural tabular shape, like version).
func render(v interface{}, tableFunc func()) error {
	if asJSON || tableFunc == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tableFunc()
	return nil
}

func newTableWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printErr(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
