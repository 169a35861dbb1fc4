package browse

import (
	"context"
	"errors"
	"fmt"

	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
	"go.uber.org/zap"
)

// page is one fetched page and the cursor of the page after it.
type page[C any] struct {
	records []message.Record
	next    C
	hasNext bool
}

// pageSource is the part that differs between strategies.
type pageSource[C any] interface {
	start() C
	// open runs after the shared resolution step, still in state opening.
	open(ctx context.Context, g guard) error
	fetch(ctx context.Context, g guard, at C) (page[C], error)
	close(ctx context.Context) error
}

// history tracks visited page cursors so earlier pages can be refetched.
// It is guarded by the browser's lifecycle lock.
type history[C any] struct {
	visited []C
	next    C
	hasNext bool
}

func (h *history[C]) visit(at C, p page[C]) {
	h.visited = append(h.visited, at)
	h.next = p.next
	h.hasNext = p.hasNext
}

func (h *history[C]) reset() { *h = history[C]{} }

// prev returns the cursor of the page before the current one.
func (h *history[C]) prev() (C, bool) {
	var zero C
	if len(h.visited) < 2 {
		return zero, false
	}
	return h.visited[len(h.visited)-2], true
}

// base holds what every strategy resolves on open.
type base struct {
	src  Source
	deps Deps
	log  *zap.Logger
	lc   lifecycle

	mgmt      Management
	replayLog string
	topics    []string
}

func newBase(src Source, deps Deps) *base {
	deps = deps.withDefaults()
	return &base{
		src:  src,
		deps: deps,
		log: deps.Logger.With(
			zap.String("source", src.Name),
			zap.Stringer("kind", src.Kind),
			zap.String("vpn", src.Connection.MsgVPN),
		),
	}
}

func (b *base) vpn() string { return b.src.Connection.MsgVPN }

// resolve sets up the management client, the replay log and the topics
// the source's messages are published on. Basic sources need none of it.
func (b *base) resolve(ctx context.Context, g guard, needReplay bool) error {
	if b.src.Kind == KindBasic {
		return nil
	}
	if b.deps.Management == nil {
		return errors.New("no management client configured")
	}
	mgmt, err := b.deps.Management(b.src.Connection)
	if err != nil {
		return fmt.Errorf("failed to create management client: %w", err)
	}
	b.mgmt = mgmt

	logs, err := mgmt.ReplayLogs(ctx, b.vpn())
	if err := g.settle(err); err != nil {
		return fmt.Errorf("failed to list replay logs: %w", err)
	}
	for _, l := range logs {
		if l.Enabled {
			b.replayLog = l.Name
			break
		}
	}
	if needReplay && b.replayLog == "" {
		return ErrNoReplayLog
	}

	switch b.src.Kind {
	case KindTopic:
		b.topics = append([]string(nil), b.src.Topics...)
	case KindQueue:
		topics, err := b.queueTopics(ctx, g)
		if err != nil {
			return err
		}
		b.topics = topics
	}
	b.log.Debug("browser resolved",
		zap.String("replayLog", b.replayLog),
		zap.Strings("topics", b.topics))
	return nil
}

// queueTopics returns the queue's network topic followed by its subscriptions.
func (b *base) queueTopics(ctx context.Context, g guard) ([]string, error) {
	info, err := b.mgmt.Queue(ctx, b.vpn(), b.src.Name)
	if err := g.settle(err); err != nil {
		return nil, fmt.Errorf("failed to get queue %q: %w", b.src.Name, err)
	}

	subs, err := paging.Collect(ctx, func(ctx context.Context, cursor string, count int) (paging.Page[string], error) {
		return b.mgmt.QueueSubscriptions(ctx, b.vpn(), b.src.Name, cursor, count)
	}, paging.Options{})
	if err := g.settle(err); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions of %q: %w", b.src.Name, err)
	}

	var topics []string
	if info.NetworkTopic != "" {
		topics = append(topics, info.NetworkTopic)
	}
	return append(topics, subs...), nil
}

// metaPage collects up to pageSize metadata entries with the paginator.
func (b *base) metaPage(ctx context.Context, list func(ctx context.Context, cursor string, count int) (paging.Page[message.Meta], error)) ([]message.Meta, error) {
	return paging.Collect(ctx, list, paging.Options{PageSize: b.deps.PageSize, MaxItems: b.deps.PageSize})
}

// pagedBrowser implements Browser on top of a pageSource.
type pagedBrowser[C any] struct {
	*base
	source     pageSource[C]
	needReplay bool
	hist       history[C]
}

func (p *pagedBrowser[C]) Open(ctx context.Context) error {
	g, err := p.lc.beginOpen()
	if err != nil {
		return err
	}
	p.lc.mu.Lock()
	p.hist.reset()
	p.lc.mu.Unlock()

	if err := p.resolve(ctx, g, p.needReplay); err != nil {
		p.lc.abortOpen(g)
		return err
	}
	if err := p.source.open(ctx, g); err != nil {
		p.lc.abortOpen(g)
		return err
	}
	if err := p.lc.finishOpen(g); err != nil {
		return err
	}
	p.log.Debug("browser opened")
	return nil
}

func (p *pagedBrowser[C]) Close(ctx context.Context) error {
	if !p.lc.beginClose() {
		return nil
	}
	defer p.lc.finishClose()
	if err := p.source.close(ctx); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	p.log.Debug("browser closed")
	return nil
}

func (p *pagedBrowser[C]) FirstPage(ctx context.Context) ([]message.Record, error) {
	g, err := p.lc.acquire()
	if err != nil {
		return nil, err
	}
	return p.load(ctx, g, p.source.start(), func(h *history[C]) { h.reset() })
}

func (p *pagedBrowser[C]) NextPage(ctx context.Context) ([]message.Record, error) {
	g, err := p.lc.acquire()
	if err != nil {
		return nil, err
	}
	p.lc.mu.Lock()
	next, ok := p.hist.next, p.hist.hasNext
	p.lc.mu.Unlock()
	if !ok {
		return nil, ErrNoNextPage
	}
	return p.load(ctx, g, next, nil)
}

func (p *pagedBrowser[C]) PrevPage(ctx context.Context) ([]message.Record, error) {
	g, err := p.lc.acquire()
	if err != nil {
		return nil, err
	}
	p.lc.mu.Lock()
	prev, ok := p.hist.prev()
	p.lc.mu.Unlock()
	if !ok {
		return nil, ErrNoPrevPage
	}
	return p.load(ctx, g, prev, func(h *history[C]) {
		h.visited = h.visited[:len(h.visited)-2]
	})
}

func (p *pagedBrowser[C]) HasNextPage() bool {
	p.lc.mu.Lock()
	defer p.lc.mu.Unlock()
	return p.lc.state == StateOpen && p.hist.hasNext
}

func (p *pagedBrowser[C]) HasPrevPage() bool {
	p.lc.mu.Lock()
	defer p.lc.mu.Unlock()
	return p.lc.state == StateOpen && len(p.hist.visited) > 1
}

// load fetches the page at cursor and, if the guard still holds, records
// it in the history after applying rewind.
func (p *pagedBrowser[C]) load(ctx context.Context, g guard, at C, rewind func(*history[C])) ([]message.Record, error) {
	pg, err := p.source.fetch(ctx, g, at)
	if err != nil {
		return nil, g.settle(err)
	}

	p.lc.mu.Lock()
	defer p.lc.mu.Unlock()
	if err := p.lc.checkLocked(g); err != nil {
		return nil, err
	}
	if rewind != nil {
		rewind(&p.hist)
	}
	p.hist.visit(at, pg)
	return pg.records, nil
}
