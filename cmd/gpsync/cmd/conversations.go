package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"
)

var searchOpts struct {
	conversation string
	limit        int
}

func init() {
	rootCmd.AddCommand(listCmd)

	searchCmd.Flags().StringVar(&searchOpts.conversation, "conversation", "", "restrict the search to one conversation")
	searchCmd.Flags().IntVar(&searchOpts.limit, "limit", 50, "maximum hits")
	rootCmd.AddCommand(searchCmd)

	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statusCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		eng := a.Engine()

		if _, err := eng.Flush(ctx); err != nil {
			logger.Warn("flush_failed_showing_cached", "error", err)
		}
		items := eng.ConvList()
		return render(cmd.OutOrStdout(), items, func(w io.Writer) { printConversations(w, items) })
	},
}

func printConversations(w io.Writer, items []models.ConversationSummary) {
	if len(items) == 0 {
		fmt.Fprintln(w, "(no conversations)")
		return
	}
	fmt.Fprintf(w, "%-24s %-26s %8s %7s  %-16s %s\n", "ID", "TITLE", "LAST", "UNREAD", "UPDATED", "PREVIEW")
	for _, it := range items {
		fmt.Fprintf(w, "%-24s %-26s %8s %7s  %-16s %s\n",
			clip(it.ID, 24), clip(it.Title, 26),
			humanize.Comma(it.LastSeq), humanize.Comma(it.Unread),
			ago(it.UpdatedAt), clip(it.Preview, 40))
	}
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message text on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		hits, err := a.Engine().Search(ctx, args[0], searchOpts.conversation, searchOpts.limit)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), hits, func(w io.Writer) {
			if len(hits) == 0 {
				fmt.Fprintln(w, "(no matches)")
				return
			}
			for _, h := range hits {
				fmt.Fprintf(w, "%s #%d  %s\n", h.ConversationID, h.Seq, h.MessageID)
			}
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation on the server and locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Engine().DeleteConversation(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Write a full local copy of a conversation as json or yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		eng := a.Engine()

		if _, err := eng.Flush(ctx); err != nil {
			logger.Warn("flush_failed_exporting_cached", "error", err)
		}
		if err := eng.EnsureLoaded(ctx, args[0]); err != nil {
			return err
		}
		if err := eng.Reconcile(ctx); err != nil {
			logger.Warn("reconcile_failed_export_may_be_partial", "error", err)
		}
		if flags.output == "table" || flags.output == "" {
			flags.output = "json"
		}
		exp := eng.Export(args[0])
		return render(cmd.OutOrStdout(), exp, nil)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device id, outbox depth and connectivity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		eng := a.Engine()

		_, flushErr := eng.Flush(ctx)
		st := eng.Status()
		return render(cmd.OutOrStdout(), st, func(w io.Writer) {
			fmt.Fprintf(w, "device:   %s\n", st.DeviceID)
			fmt.Fprintf(w, "outbox:   %s pending\n", humanize.Comma(int64(st.OutboxDepth)))
			if flushErr != nil {
				fmt.Fprintf(w, "server:   unreachable (%v)\n", flushErr)
			} else {
				fmt.Fprintf(w, "server:   ok (synced %s)\n", humanize.Time(st.LastSuccess))
			}
		})
	},
}
