package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <queue>",
		Short: "remove every message (waiting and leased) from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			waiting, leased, err := newBroker().Purge(args[0])
			if err != nil {
				return err
			}
			result := map[string]int{"removed_waiting": waiting, "removed_leased": leased}
			return render(result, func() {
				fmt.Printf("removed %d waiting, %d leased\n", waiting, leased)
			})
		},
	}
}
