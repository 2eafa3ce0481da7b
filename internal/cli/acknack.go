package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAckCmd() *cobra.Command {
	var requeue bool
	var hasRequeue bool

	cmd := &cobra.Command{
		Use:   "ack <queue> <lease-file>...",
		Short: "acknowledge one or more leased messages, removing them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r *bool
			if hasRequeue {
				r = &requeue
			}
			result, err := newBroker().Ack(args[0], args[1:], r)
			if err != nil {
				return err
			}
			return render(result, func() {
				fmt.Printf("handled: %v\nmissing: %v\n", result.Handled, result.Missing)
			})
		},
	}
	cmd.Flags().BoolVar(&requeue, "requeue", false, "force-requeue instead of discarding (default: respect the ack default, no requeue)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) { hasRequeue = cmd.Flags().Changed("requeue") }
	return cmd
}

func newNackCmd() *cobra.Command {
	var requeue bool
	var hasRequeue bool

	cmd := &cobra.Command{
		Use:   "nack <queue> <lease-file>...",
		Short: "negatively acknowledge one or more leased messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r *bool
			if hasRequeue {
				r = &requeue
			}
			result, err := newBroker().Nack(args[0], args[1:], r)
			if err != nil {
				return err
			}
			return render(result, func() {
				fmt.Printf("handled: %v\nmissing: %v\n", result.Handled, result.Missing)
			})
		},
	}
	cmd.Flags().BoolVar(&requeue, "requeue", false, "override the message's own requeue field")
	cmd.PreRun = func(cmd *cobra.Command, args []string) { hasRequeue = cmd.Flags().Changed("requeue") }
	return cmd
}

func newDelMsgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del-msg <queue> <filename>",
		Short: "delete a single message file by name, waiting or leased",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newBroker().DeleteMessage(args[0], args[1])
		},
	}
}
