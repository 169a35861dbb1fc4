package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/epalmerini/msgscope/internal/browse"
	"github.com/epalmerini/msgscope/internal/db"
	"github.com/epalmerini/msgscope/internal/message"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var browseOpts struct {
	kind     string
	topics   []string
	mode     string
	fromID   int64
	fromTime string
	pages    int
	archive  bool
	proto    string
	filter   string
}

var browseCmd = &cobra.Command{
	Use:   "browse <name>",
	Short: "Print the messages of a queue or replay log as JSON lines",
	Long: `Browse pages through a source without consuming from it and prints one JSON
record per message.

Sources are queues (default), topics (--kind topic, with --topic patterns)
or basic queues browsed without management access (--kind basic). Modes:
  default  queue order from the messaging session
  oldest   queue order, oldest first, replayed from the replay log
  newest   queue order, newest first, replayed from the replay log
  time     replay log from --from-time
  msgid    replay log from --from-id`,
	Args: cobra.ExactArgs(1),
	RunE: runBrowse,
}

func init() {
	f := browseCmd.Flags()
	f.StringVar(&browseOpts.kind, "kind", "queue", "source kind (queue|topic|basic)")
	f.StringArrayVar(&browseOpts.topics, "topic", nil, "topic subscription for --kind topic (repeatable)")
	f.StringVarP(&browseOpts.mode, "mode", "m", "default", "browse mode (default|oldest|newest|time|msgid)")
	f.Int64Var(&browseOpts.fromID, "from-id", 0, "start after this message id (mode msgid)")
	f.StringVar(&browseOpts.fromTime, "from-time", "", "start at this RFC 3339 time (mode time)")
	f.IntVar(&browseOpts.pages, "pages", 1, "number of pages to print, 0 for all")
	f.BoolVar(&browseOpts.archive, "archive", false, "also store the fetched records in the local archive")
	f.StringVar(&browseOpts.proto, "proto", "", "directory of .proto files for binary payloads")
	f.StringVar(&browseOpts.filter, "filter", "", "only print records matching this expression (dest:, body:, hdr:, type:, key:, re:)")
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	src, mode, from, err := browseTarget(args[0], a)
	if err != nil {
		return err
	}
	filter, err := message.ParseFilter(browseOpts.filter)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var writer *db.AsyncWriter
	if browseOpts.archive {
		store, sessionID, err := openArchive(ctx, a, src, mode)
		if err != nil {
			return err
		}
		defer func() {
			endCtx := context.WithoutCancel(ctx)
			if err := store.EndSession(endCtx, sessionID); err != nil {
				a.log.Warn("failed to end archive session", zap.Error(err))
			}
			if err := store.Close(); err != nil {
				a.log.Warn("failed to close archive", zap.Error(err))
			}
		}()
		writer = db.NewAsyncWriter(store, sessionID, a.log)
		defer writer.Close()
	}

	ctrl := browse.NewController(a.deps(a.decoder(browseOpts.proto)))
	defer func() {
		if err := ctrl.Close(context.WithoutCancel(ctx)); err != nil {
			a.log.Debug("close browser", zap.Error(err))
		}
	}()

	b := ctrl.SwitchTo(ctx, src, mode, from)
	return printPages(ctx, cmd.OutOrStdout(), b, browseOpts.pages, filter, func(page int, recs []message.Record) {
		if writer != nil {
			writer.SavePage(page, recs)
		}
	})
}

func browseTarget(name string, a *app) (*browse.Source, browse.Mode, browse.StartFrom, error) {
	kind, err := browse.ParseSourceKind(browseOpts.kind)
	if err != nil {
		return nil, 0, browse.StartFrom{}, err
	}
	mode, err := browse.ParseMode(browseOpts.mode)
	if err != nil {
		return nil, 0, browse.StartFrom{}, err
	}
	if kind == browse.KindTopic && len(browseOpts.topics) == 0 {
		browseOpts.topics = []string{name}
	}

	from := browse.StartFrom{MsgID: browseOpts.fromID}
	if browseOpts.fromTime != "" {
		t, err := time.Parse(time.RFC3339, browseOpts.fromTime)
		if err != nil {
			return nil, 0, browse.StartFrom{}, fmt.Errorf("invalid --from-time: %w", err)
		}
		from.Time = t
	}

	src := &browse.Source{
		Kind:       kind,
		Name:       name,
		Connection: a.cfg.Connection,
		Topics:     browseOpts.topics,
	}
	return src, mode, from, nil
}

func openArchive(ctx context.Context, a *app, src *browse.Source, mode browse.Mode) (*db.SQLiteStore, int64, error) {
	store, err := db.NewStore(a.cfg.DBPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open archive: %w", err)
	}
	conn := src.Connection.Redacted()
	sessionID, err := store.CreateSession(ctx, db.SessionParams{
		SourceKind:    src.Kind.String(),
		SourceName:    src.Name,
		Mode:          mode.String(),
		MsgVPN:        conn.MsgVPN,
		ManagementURL: conn.BaseURL(),
	})
	if err != nil {
		_ = store.Close()
		return nil, 0, fmt.Errorf("create archive session: %w", err)
	}
	return store, sessionID, nil
}

// printPages writes the records of up to limit pages of b that pass filter
// as JSON lines, calling onPage with each page's printed records. limit 0
// prints every page.
func printPages(ctx context.Context, w io.Writer, b browse.Browser, limit int, filter *message.Filter, onPage func(int, []message.Record)) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	recs, err := b.FirstPage(ctx)
	for page := 1; ; page++ {
		if err != nil {
			return err
		}
		recs = filter.Apply(recs)
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		if onPage != nil {
			onPage(page, recs)
		}
		if (limit > 0 && page >= limit) || !b.HasNextPage() {
			return nil
		}
		recs, err = b.NextPage(ctx)
	}
}
