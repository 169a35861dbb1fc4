package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/epalmerini/msgscope/internal/db"
	"github.com/spf13/cobra"
)

var historyOpts struct {
	session int64
	limit   int64
	offset  int64
}

var historyCmd = &cobra.Command{
	Use:   "history [query]",
	Short: "Search the local archive of browsed messages",
	Long: `Without a query, history lists the recent archived browse sessions, or the
records of --session. With a query, it runs a full-text search over archived
payloads and destinations, optionally limited to --session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		store, err := db.NewStore(a.cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()

		var msgs []db.Message
		switch {
		case len(args) == 1 && historyOpts.session > 0:
			msgs, err = store.SearchMessagesInSession(ctx, args[0], historyOpts.session, historyOpts.limit, historyOpts.offset)
		case len(args) == 1:
			msgs, err = store.SearchMessages(ctx, args[0], historyOpts.limit, historyOpts.offset)
		case historyOpts.session > 0:
			msgs, err = store.ListMessagesBySession(ctx, historyOpts.session, historyOpts.limit, historyOpts.offset)
		default:
			sessions, err := store.ListRecentSessions(ctx, historyOpts.limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "SESSION\tSTARTED\tKIND\tSOURCE\tMODE\tVPN")
			for _, s := range sessions {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					s.ID, s.StartedAt.Format(time.DateTime), s.SourceKind, s.SourceName, s.Mode, s.MsgVPN)
			}
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(w, "ID\tSESSION\tPAGE\tKEY\tDESTINATION\tPAYLOAD")
		for _, m := range msgs {
			fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
				m.ID, m.SessionID, m.Page, m.Key, m.Destination, truncate(m.Payload, 60))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int64Var(&historyOpts.session, "session", 0, "archive session id")
	historyCmd.Flags().Int64Var(&historyOpts.limit, "limit", 50, "maximum rows")
	historyCmd.Flags().Int64Var(&historyOpts.offset, "offset", 0, "rows to skip")
	rootCmd.AddCommand(historyCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
