// Package cli implements the ddmq command-line surface: one cobra
// subcommand per broker/cleaner/admin operation, each rendering its result
// as a human table (default) or JSON (--json).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ddmq/ddmq/internal/admin"
	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/cleaner"
	"github.com/ddmq/ddmq/internal/logging"
)

var (
	rootPath string
	asJSON   bool
)

// NewRootCmd builds the ddmq root command and all of its subcommands.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ddmq",
		Short:         "ddmq - a serverless, file-backed message broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&rootPath, "root", "./ddmq-root", "path to the ddmq root directory")
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "render output as JSON instead of a table")

	cmd.AddCommand(
		newViewCmd(),
		newCreateCmd(),
		newDeleteCmd(),
		newPublishCmd(),
		newConsumeCmd(),
		newAckCmd(),
		newNackCmd(),
		newDelMsgCmd(),
		newPurgeCmd(),
		newCleanCmd(),
		newCleanAllCmd(),
		newQueuesCmd(),
		newVersionCmd(),
		newServeCmd(),
	)

	return cmd
}

// Execute runs the root command and, on any error (a *broker.Error, any
// other failure, or a usage error), prints it to stderr and exits 1.
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newBroker() *broker.Broker {
	logger := logging.Global()
	return broker.New(rootPath, logger)
}

func newAdmin() *admin.Admin {
	return admin.New(newBroker())
}

func newCleaner() *cleaner.Cleaner {
	return cleaner.New(newBroker(), logging.Global(), nil)
}
