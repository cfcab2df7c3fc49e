// Package cmd provides the CLI commands for the retrieval service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/novadesk/retrieval/pkg/version"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieval",
		Short: "Multi-tenant semantic retrieval service",
		Long: `The retrieval service maintains a unified semantic index over
workspace artifacts (documents, meetings, test suites, tickets) and serves
tenant-scoped natural language search over HTTP.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("retrieval version {{.Version}}\n")
	cmd.PersistentFlags().Bool("debug", false, "Force debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
