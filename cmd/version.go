// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/jsbox/internal/results"
)

// Version is the application version.
// Example: go build -ldflags "-X github.com/xkilldash9x/jsbox/cmd.Version=1.0.0"
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the jsbox and rule set versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "jsbox %s (rules %s)\n", Version, results.RulesVersion)
			return err
		},
	}
}
