package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(outboxCmd)
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "List entries waiting for the server to acknowledge them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.Engine().Outbox()
		return render(cmd.OutOrStdout(), entries, func(w io.Writer) {
			if len(entries) == 0 {
				fmt.Fprintln(w, "outbox is empty")
				return
			}
			for _, e := range entries {
				created := "-"
				if e.CreatedAt != nil {
					created = ago(*e.CreatedAt)
				}
				fmt.Fprintf(w, "%-38s %-20s %-18s %s\n", e.ID, clip(e.ConversationID, 20), e.Type, created)
			}
		})
	},
}
