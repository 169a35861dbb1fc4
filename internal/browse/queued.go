package browse

import (
	"context"
	"fmt"

	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
	"go.uber.org/zap"
)

// queuedSource pages through a queue in spool order, oldest or newest first.
// Each page is defined by the queue's own metadata; payloads come from
// replaying the page's id range into a temporary queue.
type queuedSource struct {
	*base
	order Order
}

// queuedCursor is an inclusive message id bound in the direction of the
// browse. Zero starts at the head (oldest) or tail (newest) of the queue.
type queuedCursor struct {
	bound int64
}

func newQueuedBrowser(src Source, deps Deps, order Order) *pagedBrowser[queuedCursor] {
	b := newBase(src, deps)
	return &pagedBrowser[queuedCursor]{
		base:       b,
		source:     &queuedSource{base: b, order: order},
		needReplay: true,
	}
}

func (q *queuedSource) start() queuedCursor { return queuedCursor{} }

func (q *queuedSource) open(context.Context, guard) error { return nil }

func (q *queuedSource) close(context.Context) error { return nil }

func (q *queuedSource) fetch(ctx context.Context, g guard, at queuedCursor) (page[queuedCursor], error) {
	meta, err := q.metaPage(ctx, func(ctx context.Context, cursor string, count int) (paging.Page[message.Meta], error) {
		return q.mgmt.QueueMsgs(ctx, q.vpn(), q.src.Name, MsgQuery{
			Order:     q.order,
			FromMsgID: at.bound,
			Cursor:    cursor,
			Count:     count,
		})
	})
	if err := g.settle(err); err != nil {
		return page[queuedCursor]{}, fmt.Errorf("failed to list messages of %q: %w", q.src.Name, err)
	}
	if len(meta) == 0 {
		return page[queuedCursor]{next: at}, nil
	}

	lo, hi := idRange(meta)
	start, err := q.replayFrom(ctx, g, lo)
	if err != nil {
		return page[queuedCursor]{}, err
	}
	res, err := q.replay(ctx, g, start, len(meta)+q.deps.ReplaySlack)
	if err != nil {
		return page[queuedCursor]{}, err
	}

	records := q.deps.Merger.Merge(meta, res.msgs)
	if extra := len(records) - len(meta); extra > 0 {
		q.log.Debug("replayed messages outside the page",
			zap.Int("count", extra), zap.Int64("lo", lo), zap.Int64("hi", hi))
	}
	records = records[:len(meta)]

	next, hasNext, err := q.advance(ctx, g, lo, hi)
	if err != nil {
		return page[queuedCursor]{}, err
	}
	return page[queuedCursor]{records: records, next: next, hasNext: hasNext}, nil
}

// advance returns the cursor past the page [lo, hi] and whether the queue
// still holds messages beyond it.
func (q *queuedSource) advance(ctx context.Context, g guard, lo, hi int64) (queuedCursor, bool, error) {
	// The far end of the queue in the browse direction.
	edgeOrder := OrderNewest
	if q.order == OrderNewest {
		edgeOrder = OrderOldest
	}
	edge, err := q.mgmt.QueueMsgs(ctx, q.vpn(), q.src.Name, MsgQuery{Order: edgeOrder, Count: 1})
	if err := g.settle(err); err != nil {
		return queuedCursor{}, false, fmt.Errorf("failed to get queue bounds of %q: %w", q.src.Name, err)
	}
	if len(edge.Items) == 0 {
		return queuedCursor{}, false, nil
	}

	limit := edge.Items[0].MsgID
	if q.order == OrderNewest {
		return queuedCursor{bound: lo - 1}, lo > limit, nil
	}
	return queuedCursor{bound: hi + 1}, hi < limit, nil
}

func idRange(meta []message.Meta) (lo, hi int64) {
	lo, hi = meta[0].MsgID, meta[0].MsgID
	for _, m := range meta[1:] {
		lo = min(lo, m.MsgID)
		hi = max(hi, m.MsgID)
	}
	return lo, hi
}
