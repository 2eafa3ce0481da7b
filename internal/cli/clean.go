package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clean <queue>",
		Short: "expire overdue leases in a queue, requeueing or discarding each one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newCleaner().Clean(args[0], force)
			if err != nil {
				return err
			}
			return render(result, func() {
				fmt.Printf("%+v\n", *result)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if the queue was cleaned within the last 60 seconds")
	return cmd
}

func newCleanAllCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clean-all",
		Short: "run clean against every queue under the root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := newCleaner().CleanAll(force)
			if err != nil {
				return err
			}
			return render(results, func() {
				for queue, r := range results {
					fmt.Printf("%s: %+v\n", queue, *r)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "run even if a queue was cleaned within the last 60 seconds")
	return cmd
}
