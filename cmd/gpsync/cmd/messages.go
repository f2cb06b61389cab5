package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tealigantal/gp/pkg/engine"
	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/models"
)

var sendOpts struct {
	actor string
}

var readOpts struct {
	around int64
	limit  int
	mark   bool
	actor  string
}

func init() {
	sendCmd.Flags().StringVar(&sendOpts.actor, "actor", "", "actor id recorded on the event")
	rootCmd.AddCommand(sendCmd)

	readCmd.Flags().Int64Var(&readOpts.around, "around", 0, "show the window around this seq instead of the start")
	readCmd.Flags().IntVar(&readOpts.limit, "limit", 0, "window size for --around (default hydration.seek_limit)")
	readCmd.Flags().BoolVar(&readOpts.mark, "mark", false, "mark the conversation read up to its last seq")
	readCmd.Flags().StringVar(&readOpts.actor, "actor", "", "actor id recorded on the read marker")
	rootCmd.AddCommand(readCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message...>",
	Short: "Queue a message and push it to the server",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		eng := a.Engine()

		entry, err := eng.Send(ctx, args[0], strings.Join(args[1:], " "), sendOpts.actor)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if _, err := eng.Flush(ctx); err != nil {
			fmt.Fprintf(out, "queued %s (server unreachable, will retry: %v)\n", entry.ID, err)
			return nil
		}
		for _, m := range eng.Messages(args[0]) {
			if m.ID == entry.ID {
				fmt.Fprintf(out, "sent %s as #%d\n", entry.ID, m.Seq)
				return nil
			}
		}
		fmt.Fprintf(out, "queued %s\n", entry.ID)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		eng := a.Engine()
		cid := args[0]

		if _, err := eng.Flush(ctx); err != nil {
			logger.Warn("flush_failed_showing_cached", "error", err)
		}
		if readOpts.around > 0 {
			err = eng.JumpToSeq(ctx, cid, readOpts.around, readOpts.limit)
		} else {
			err = eng.EnsureLoaded(ctx, cid)
		}
		if err != nil {
			return err
		}

		msgs := eng.Messages(cid)
		if err := render(cmd.OutOrStdout(), msgs, func(w io.Writer) { printMessages(w, msgs) }); err != nil {
			return err
		}

		if readOpts.mark {
			if err := eng.ReportRead(ctx, cid, eng.LastSeq(cid), readOpts.actor); err != nil {
				return err
			}
			if _, err := eng.Flush(ctx); err != nil {
				logger.Warn("read_marker_queued", "error", err)
			}
		}
		return nil
	},
}

func printMessages(w io.Writer, msgs []models.Event) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range msgs {
		actor := m.Actor()
		if actor == "" {
			actor = "?"
		}
		fmt.Fprintf(w, "#%-5d %-12s %-16s %s\n", m.Seq, clip(actor, 12), ago(m.CreatedAt), m.Content())
	}
}

var editOpts struct {
	actor string
}

func init() {
	editCmd.Flags().StringVar(&editOpts.actor, "actor", "", "actor id recorded on the event")
	rootCmd.AddCommand(editCmd)
	recallCmd.Flags().StringVar(&editOpts.actor, "actor", "", "actor id recorded on the event")
	rootCmd.AddCommand(recallCmd)
}

var editCmd = &cobra.Command{
	Use:   "edit <conversation-id> <message-id> <message...>",
	Short: "Queue a new body for an existing message",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueAndFlush(cmd, func(ctx context.Context, eng *engine.Engine) (models.OutboxEntry, error) {
			return eng.Edit(ctx, args[0], args[1], strings.Join(args[2:], " "), editOpts.actor)
		})
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <conversation-id> <message-id>",
	Short: "Queue the withdrawal of a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueAndFlush(cmd, func(ctx context.Context, eng *engine.Engine) (models.OutboxEntry, error) {
			return eng.Recall(ctx, args[0], args[1], editOpts.actor)
		})
	},
}

func queueAndFlush(cmd *cobra.Command, queue func(context.Context, *engine.Engine) (models.OutboxEntry, error)) error {
	ctx := context.Background()
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	eng := a.Engine()

	entry, err := queue(ctx, eng)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if _, err := eng.Flush(ctx); err != nil {
		fmt.Fprintf(out, "queued %s %s (server unreachable, will retry: %v)\n", entry.Type, entry.ID, err)
		return nil
	}
	fmt.Fprintf(out, "sent %s %s\n", entry.Type, entry.ID)
	return nil
}
