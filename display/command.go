// Package display decides between table and JSON output for CLI commands
package display

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// OutputEnv set to "json" makes every command that supports it print JSON
const OutputEnv = "MCTL_OUTPUT"

// ShouldOutputJSON reports whether cmd should print JSON: an explicit --json
// flag wins, otherwise OutputEnv decides
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd != nil && cmd.Flags().Lookup("json") != nil && cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}
	return os.Getenv(OutputEnv) == "json"
}

// OutputJSON marshals v with MarshalJSON and writes it to w
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
