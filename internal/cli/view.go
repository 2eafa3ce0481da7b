package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <queue>",
		Short: "list waiting and leased messages in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := args[0]
			list, err := newAdmin().GetMessageList(queue)
			if err != nil {
				return err
			}
			return render(list, func() {
				w := newTableWriter()
				defer w.Flush()
				fmt.Fprintln(w, "STATE\tID\tPRIORITY\tSEQ\tREQUEUE_COUNTER\tMESSAGE")
				for _, m := range list.Waiting {
					fmt.Fprintf(w, "waiting\t%s\t%d\t%d\t%d\t%s\n", m.ID, m.Priority, m.Seq, m.RequeueCounter, m.Message)
				}
				for _, m := range list.Leased {
					fmt.Fprintf(w, "leased\t%s\t%d\t%d\t%d\t%s\n", m.ID, m.Priority, m.Seq, m.RequeueCounter, m.Message)
				}
			})
		},
	}
}
