package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/epalmerini/msgscope/internal/browse"
	"github.com/epalmerini/msgscope/internal/bulk"
	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var bulkOpts struct {
	msgIDs []int64
	limit  int
	yes    bool
}

var copyCmd = &cobra.Command{
	Use:   "copy <queue> <destination-queue>",
	Short: "Copy messages from one queue to another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd, args[0], func(ctx context.Context, r *bulk.Runner, vpn string, recs []message.Record) (bulk.Report, error) {
			return r.Copy(ctx, vpn, recs, args[0], args[1])
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <queue> <destination-queue>",
	Short: "Move messages from one queue to another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd, args[0], func(ctx context.Context, r *bulk.Runner, vpn string, recs []message.Record) (bulk.Report, error) {
			return r.Move(ctx, vpn, recs, args[0], args[1])
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <queue>",
	Short: "Delete messages from a queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd, args[0], func(ctx context.Context, r *bulk.Runner, vpn string, recs []message.Record) (bulk.Report, error) {
			return r.Delete(ctx, vpn, recs, args[0])
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{copyCmd, moveCmd, deleteCmd} {
		c.Flags().Int64SliceVar(&bulkOpts.msgIDs, "msg-id", nil, "message ids to act on (repeatable)")
		c.Flags().IntVar(&bulkOpts.limit, "limit", 0, "act on the oldest N messages instead of --msg-id")
		c.Flags().BoolVarP(&bulkOpts.yes, "yes", "y", false, "required to act on messages")
		rootCmd.AddCommand(c)
	}
}

type bulkFunc func(ctx context.Context, r *bulk.Runner, vpn string, recs []message.Record) (bulk.Report, error)

func runBulk(cmd *cobra.Command, queue string, op bulkFunc) error {
	if len(bulkOpts.msgIDs) == 0 && bulkOpts.limit <= 0 {
		return fmt.Errorf("select messages with --msg-id or --limit")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.management()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	vpn := a.cfg.Connection.MsgVPN

	recs, err := selectRecords(ctx, client, vpn, queue, bulkOpts.msgIDs, bulkOpts.limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no matching messages")
		return nil
	}
	if !bulkOpts.yes {
		fmt.Fprintf(cmd.OutOrStdout(), "%d messages selected, rerun with --yes to %s them\n", len(recs), cmd.Name())
		return nil
	}

	runner := &bulk.Runner{Actions: client, Logger: a.log}
	rep, err := op(ctx, runner, vpn, recs)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d of %d done\n", cmd.Name(), rep.ID, rep.Completed, rep.Requested)
	if rep.Aborted {
		a.log.Info("bulk operation interrupted", zap.String("opId", rep.ID))
	}
	return err
}

// selectRecords lists the queue's metadata, oldest first, keeping either the
// requested ids or the first limit messages.
func selectRecords(ctx context.Context, mgmt browse.Management, vpn, queue string, ids []int64, limit int) ([]message.Record, error) {
	opts := paging.Options{PageSize: browse.DefaultPageSize}
	if len(ids) == 0 {
		opts.MaxItems = limit
	}
	meta, err := paging.Collect(ctx, func(ctx context.Context, cursor string, count int) (paging.Page[message.Meta], error) {
		return mgmt.QueueMsgs(ctx, vpn, queue, browse.MsgQuery{Order: browse.OrderOldest, Cursor: cursor, Count: count})
	}, opts)
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		meta = slices.DeleteFunc(meta, func(m message.Meta) bool { return !slices.Contains(ids, m.MsgID) })
	}
	return message.Merge(meta, nil), nil
}
