package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddmq/ddmq/internal/broker"
)

func newPublishCmd() *cobra.Command {
	var priority int
	var hasPriority bool
	var timeout int
	var hasTimeout bool
	var create bool

	cmd := &cobra.Command{
		Use:   "publish <queue> <message>",
		Short: "publish a message to a queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := broker.PublishOptions{Create: create}
			if hasPriority {
				opts.Priority = &priority
			}
			if hasTimeout {
				opts.Timeout = &timeout
			}

			msg, err := newBroker().Publish(args[0], args[1], opts)
			if err != nil {
				return err
			}
			return render(msg, func() {
				fmt.Printf("published %s (priority=%d seq=%d)\n", msg.ID, msg.Priority, msg.Seq)
			})
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "message priority (default: queue's configured priority)")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "message-specific visibility timeout in seconds")
	cmd.Flags().BoolVar(&create, "create", false, "create the queue if it does not already exist")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		hasPriority = cmd.Flags().Changed("priority")
		hasTimeout = cmd.Flags().Changed("timeout")
	}
	return cmd
}
