package browse

import (
	"context"
	"fmt"
	"time"

	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
)

// replayLogSource pages through the replay log in publish order. Pages are
// whatever the replay delivers; the log's metadata only enriches them.
type replayLogSource struct {
	*base
	from StartFrom
}

// replayCursor positions a replay page. afterRepl wins over msgID, which
// wins over time; all empty means the beginning of the log.
type replayCursor struct {
	afterRepl string
	msgID     int64
	time      time.Time
}

func newReplayBrowser(src Source, deps Deps, from StartFrom) *pagedBrowser[replayCursor] {
	b := newBase(src, deps)
	return &pagedBrowser[replayCursor]{
		base:       b,
		source:     &replayLogSource{base: b, from: from},
		needReplay: true,
	}
}

func (r *replayLogSource) start() replayCursor {
	return replayCursor{msgID: r.from.MsgID, time: r.from.Time}
}

func (r *replayLogSource) open(context.Context, guard) error { return nil }

func (r *replayLogSource) close(context.Context) error { return nil }

func (r *replayLogSource) fetch(ctx context.Context, g guard, at replayCursor) (page[replayCursor], error) {
	meta, err := r.metaPage(ctx, func(ctx context.Context, cursor string, count int) (paging.Page[message.Meta], error) {
		return r.mgmt.ReplayLogMsgs(ctx, r.vpn(), r.replayLog, MsgQuery{
			Order:     OrderOldest,
			FromMsgID: at.msgID,
			FromTime:  at.time,
			Cursor:    cursor,
			Count:     count,
		})
	})
	if err := g.settle(err); err != nil {
		return page[replayCursor]{}, fmt.Errorf("failed to list replay log %q: %w", r.replayLog, err)
	}

	start, err := r.startOf(ctx, g, at)
	if err != nil {
		return page[replayCursor]{}, err
	}
	res, err := r.replay(ctx, g, start, r.deps.PageSize)
	if err != nil {
		return page[replayCursor]{}, err
	}

	merged := r.deps.Merger.MergeInMessageOrder(meta, res.msgs)
	// Replayed messages define the page. Log entries the replay did not deliver
	// here are either for other topics or show up on a later page.
	records := make([]message.Record, 0, len(res.msgs))
	for _, rec := range merged {
		if rec.HasContent() {
			records = append(records, rec)
		}
	}

	pg := page[replayCursor]{records: records, hasNext: res.spooled > int64(r.deps.PageSize)}
	if pg.hasNext {
		next, ok := nextReplayCursor(res.msgs, records)
		if !ok {
			r.log.Debug("last replayed message has no position, stopping")
		}
		pg.next, pg.hasNext = next, ok
	}
	return pg, nil
}

func (r *replayLogSource) startOf(ctx context.Context, g guard, at replayCursor) (ReplayStart, error) {
	switch {
	case at.afterRepl != "":
		return ReplayStart{Kind: ReplayAfterMsg, AfterReplicationGroupMsgID: at.afterRepl}, nil
	case at.msgID > 0:
		return r.replayFrom(ctx, g, at.msgID)
	case !at.time.IsZero():
		return ReplayStart{Kind: ReplayFromTime, Time: at.time}, nil
	default:
		return ReplayStart{Kind: ReplayBeginning}, nil
	}
}

// nextReplayCursor continues after the last message of a page.
func nextReplayCursor(msgs []message.BusMessage, records []message.Record) (replayCursor, bool) {
	if len(msgs) == 0 || len(records) == 0 {
		return replayCursor{}, false
	}
	next := replayCursor{afterRepl: msgs[len(msgs)-1].ReplicationGroupMsgID}
	if last := records[len(records)-1]; last.Meta != nil {
		next.msgID = last.Meta.MsgID + 1
	}
	return next, next.afterRepl != "" || next.msgID > 0
}
