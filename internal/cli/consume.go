package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ddmq/ddmq/internal/broker"
	"github.com/ddmq/ddmq/internal/watch"
)

func newConsumeCmd() *cobra.Command {
	var n int
	var create bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "consume <queue>",
		Short: "lease up to N waiting messages from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := newBroker()
			opts := broker.ConsumeOptions{N: n, Create: create}

			messages, err := b.Consume(args[0], opts)
			if err == nil && len(messages) == 0 && wait > 0 {
				ctx, cancel := context.WithTimeout(cmd.Context(), wait)
				defer cancel()
				if waitErr := watch.WaitForWrite(ctx, b.Root().QueuePath(args[0])); waitErr == nil {
					messages, err = b.Consume(args[0], opts)
				}
			}
			if err != nil {
				return err
			}
			return render(messages, func() {
				w := newTableWriter()
				defer w.Flush()
				fmt.Fprintln(w, "LEASE_FILE\tID\tPRIORITY\tMESSAGE")
				for _, m := range messages {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.Filename, m.ID, m.Priority, m.Message)
				}
			})
		},
	}

	cmd.Flags().IntVar(&n, "n", 1, "number of messages to lease")
	cmd.Flags().BoolVar(&create, "create", false, "create the queue if it does not already exist")
	cmd.Flags().DurationVar(&wait, "wait", 0, "block up to this long for a new message if the queue is empty (0: return immediately)")
	return cmd
}
