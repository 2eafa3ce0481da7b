package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddmq/ddmq/internal/admin"
)

func versionString() string { return admin.Version }

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <queue>",
		Short: "create a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := newBroker()
			if !b.Root().Initiated() {
				if err := b.InitRoot(); err != nil {
					return err
				}
			}
			return b.CreateQueue(args[0])
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <queue>",
		Short: "delete a queue and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newBroker().DeleteQueue(args[0])
		},
	}
}

func newQueuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "list every queue under the root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queues, err := newAdmin().ListQueues()
			if err != nil {
				return err
			}
			return render(map[string][]string{"queues": queues}, func() {
				for _, q := range queues {
					fmt.Println(q)
				}
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the ddmq version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(map[string]string{"version": versionString()}, func() {
				fmt.Println(versionString())
			})
		},
	}
}
