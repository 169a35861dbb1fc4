package browse

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/epalmerini/msgscope/internal/broker"
	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
	"go.uber.org/zap/zaptest"
)

// fakeBroker is an in-memory broker backing both the management and the
// session fakes.
type fakeBroker struct {
	mu         sync.Mutex
	replayLogs []ReplayLog
	queues     map[string]*fakeQueue
	log        []replayEntry

	mgmtErr       error   // ReplayLogs
	lookupErr     error   // newest-first replay log queries
	connectErrs   []error // queue browser connects, one per attempt
	readErr       error
	disconnectErr error // session disconnects
	onReplayLogs  func()
	onConnect     func() // queue browser connects, after they succeed
	onRead        func()

	connectAttempts    int
	browserDisconnects int
	sessions           int
	disconnects     int
	provisioned     []string
	deprovisioned   []string
	replays         []ReplayStart
}

type fakeQueue struct {
	info QueueInfo
	subs []string
	meta []message.Meta
	msgs []message.BusMessage
}

type replayEntry struct {
	topic string
	meta  message.Meta
	msg   message.BusMessage
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		replayLogs: []ReplayLog{{Name: "disabled"}, {Name: "rl", Enabled: true}},
		queues:     make(map[string]*fakeQueue),
	}
}

func fakeMessage(id int64, topic string) (message.Meta, message.BusMessage) {
	repl := fmt.Sprintf("rg-%d", id)
	payload := fmt.Sprintf("payload-%d", id)
	meta := message.Meta{
		MsgID:                 id,
		ReplicationGroupMsgID: repl,
		SpooledTime:           id * 10,
		AttachmentSize:        int64(len(payload)),
	}
	msg := message.BusMessage{
		ReplicationGroupMsgID: repl,
		LegacyMsgID:           strconv.FormatInt(id, 10),
		Headers:               message.Headers{Destination: topic},
		Attachment:            []byte(payload),
	}
	return meta, msg
}

// publish logs messages from..to on topic and, if queue is set, spools them
// there as well.
func (f *fakeBroker) publish(topic, queue string, from, to int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := from; id <= to; id++ {
		meta, msg := fakeMessage(id, topic)
		f.log = append(f.log, replayEntry{topic: topic, meta: meta, msg: msg})
		if queue != "" {
			q := f.queueLocked(queue)
			q.meta = append(q.meta, meta)
			q.msgs = append(q.msgs, msg)
		}
	}
}

// consume removes the n oldest messages from queue.
func (f *fakeBroker) consume(queue string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queueLocked(queue)
	q.meta = q.meta[n:]
	q.msgs = q.msgs[n:]
}

func (f *fakeBroker) queueLocked(name string) *fakeQueue {
	q, ok := f.queues[name]
	if !ok {
		q = &fakeQueue{}
		f.queues[name] = q
	}
	return q
}

func (f *fakeBroker) deps(t *testing.T, pageSize int) Deps {
	t.Helper()
	return Deps{
		Management:  func(broker.Connection) (Management, error) { return fakeMgmt{f}, nil },
		Session:     func(broker.Connection) Session { return &fakeSession{f: f} },
		Logger:      zaptest.NewLogger(t),
		Retry:       fastRetry(),
		PageSize:    pageSize,
		ReadTimeout: time.Millisecond,
	}
}

type fakeMgmt struct{ f *fakeBroker }

func (m fakeMgmt) ReplayLogs(context.Context, string) ([]ReplayLog, error) {
	if m.f.onReplayLogs != nil {
		m.f.onReplayLogs()
	}
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if m.f.mgmtErr != nil {
		return nil, m.f.mgmtErr
	}
	return slices.Clone(m.f.replayLogs), nil
}

func (m fakeMgmt) Queue(_ context.Context, _, queue string) (QueueInfo, error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	q, ok := m.f.queues[queue]
	if !ok {
		return QueueInfo{}, fmt.Errorf("queue %q not found", queue)
	}
	info := q.info
	info.Name = queue
	info.SpooledMsgCount = int64(len(q.msgs))
	return info, nil
}

// QueueSubscriptions pages two subscriptions at a time.
func (m fakeMgmt) QueueSubscriptions(_ context.Context, _, queue, cursor string, _ int) (paging.Page[string], error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	q, ok := m.f.queues[queue]
	if !ok {
		return paging.Page[string]{}, fmt.Errorf("queue %q not found", queue)
	}
	return fakePage(q.subs, cursor, 2), nil
}

func (m fakeMgmt) QueueMsgs(_ context.Context, _, queue string, q MsgQuery) (paging.Page[message.Meta], error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	fq, ok := m.f.queues[queue]
	if !ok {
		return paging.Page[message.Meta]{}, fmt.Errorf("queue %q not found", queue)
	}
	return fakePage(filterMeta(fq.meta, q), q.Cursor, q.Count), nil
}

func (m fakeMgmt) ReplayLogMsgs(_ context.Context, _, _ string, q MsgQuery) (paging.Page[message.Meta], error) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	if q.Order == OrderNewest && m.f.lookupErr != nil {
		return paging.Page[message.Meta]{}, m.f.lookupErr
	}
	meta := make([]message.Meta, len(m.f.log))
	for i, e := range m.f.log {
		meta[i] = e.meta
	}
	return fakePage(filterMeta(meta, q), q.Cursor, q.Count), nil
}

// filterMeta applies the bounds and order of q to meta, which is oldest first.
func filterMeta(meta []message.Meta, q MsgQuery) []message.Meta {
	var out []message.Meta
	for _, m := range meta {
		switch {
		case q.Order == OrderOldest && q.FromMsgID > 0 && m.MsgID < q.FromMsgID:
		case q.Order == OrderNewest && q.FromMsgID > 0 && m.MsgID > q.FromMsgID:
		case !q.FromTime.IsZero() && m.SpooledTime < q.FromTime.Unix():
		default:
			out = append(out, m)
		}
	}
	if q.Order == OrderNewest {
		slices.Reverse(out)
	}
	return out
}

func fakePage[T any](items []T, cursor string, count int) paging.Page[T] {
	offset, _ := strconv.Atoi(cursor)
	if count <= 0 {
		count = len(items)
	}
	end := min(offset+count, len(items))
	offset = min(offset, end)
	p := paging.Page[T]{Items: slices.Clone(items[offset:end])}
	if end < len(items) {
		p.NextCursor = fmt.Sprintf("count=%d&cursor=%d", count, end)
	}
	return p
}

type fakeSession struct {
	f *fakeBroker
}

func (s *fakeSession) Connect(context.Context) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.sessions++
	return nil
}

func (s *fakeSession) Disconnect(context.Context) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.disconnects++
	return s.f.disconnectErr
}

func (s *fakeSession) ProvisionQueue(_ context.Context, name string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if _, exists := s.f.queues[name]; exists {
		return fmt.Errorf("queue %q already exists", name)
	}
	s.f.queues[name] = &fakeQueue{}
	s.f.provisioned = append(s.f.provisioned, name)
	return nil
}

func (s *fakeSession) DeprovisionQueue(_ context.Context, name string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	delete(s.f.queues, name)
	s.f.deprovisioned = append(s.f.deprovisioned, name)
	return nil
}

func (s *fakeSession) Subscribe(_ context.Context, queue, topic string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	q, ok := s.f.queues[queue]
	if !ok {
		return fmt.Errorf("queue %q not found", queue)
	}
	q.subs = append(q.subs, topic)
	return nil
}

func (s *fakeSession) CreateMessageConsumer(opts ConsumerOptions) MessageConsumer {
	return &fakeConsumer{f: s.f, opts: opts}
}

func (s *fakeSession) CreateQueueBrowser(queue string) QueueBrowser {
	return &fakeQueueBrowser{f: s.f, queue: queue}
}

// fakeConsumer replays the log into its queue on connect.
type fakeConsumer struct {
	f    *fakeBroker
	opts ConsumerOptions
}

func (c *fakeConsumer) Connect(context.Context) error {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.opts.Replay.Kind == ReplayNone {
		return nil
	}
	f.replays = append(f.replays, c.opts.Replay)

	start := 0
	switch c.opts.Replay.Kind {
	case ReplayFromTime:
		start = len(f.log)
		for i, e := range f.log {
			if e.meta.SpooledTime >= c.opts.Replay.Time.Unix() {
				start = i
				break
			}
		}
	case ReplayAfterMsg:
		i := slices.IndexFunc(f.log, func(e replayEntry) bool {
			return e.meta.ReplicationGroupMsgID == c.opts.Replay.AfterReplicationGroupMsgID
		})
		if i < 0 {
			return errors.New("replay position not found")
		}
		start = i + 1
	}

	q, ok := f.queues[c.opts.Queue]
	if !ok {
		return fmt.Errorf("queue %q not found", c.opts.Queue)
	}
	for _, e := range f.log[start:] {
		if slices.Contains(q.subs, e.topic) {
			q.meta = append(q.meta, e.meta)
			q.msgs = append(q.msgs, e.msg)
		}
	}
	return nil
}

func (c *fakeConsumer) Disconnect(context.Context) error { return nil }

type fakeQueueBrowser struct {
	f     *fakeBroker
	queue string
	pos   int
}

func (b *fakeQueueBrowser) Connect(context.Context) error {
	f := b.f
	f.mu.Lock()
	f.connectAttempts++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			f.mu.Unlock()
			return err
		}
	}
	b.pos = 0
	f.mu.Unlock()

	if f.onConnect != nil {
		f.onConnect()
	}
	return nil
}

func (b *fakeQueueBrowser) ReadMessages(_ context.Context, count int, _ time.Duration) ([]message.BusMessage, error) {
	if b.f.onRead != nil {
		b.f.onRead()
	}
	f := b.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	q, ok := f.queues[b.queue]
	if !ok {
		return nil, fmt.Errorf("queue %q not found", b.queue)
	}
	end := min(b.pos+count, len(q.msgs))
	out := slices.Clone(q.msgs[b.pos:end])
	b.pos = end
	return out, nil
}

func (b *fakeQueueBrowser) Disconnect(context.Context) error {
	b.f.mu.Lock()
	defer b.f.mu.Unlock()
	b.f.browserDisconnects++
	return nil
}

func keys(records []message.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Key
	}
	return out
}

func keyRange(from, to int64) []string {
	var out []string
	step := int64(1)
	if to < from {
		step = -1
	}
	for id := from; ; id += step {
		out = append(out, fmt.Sprintf("rg-%d", id))
		if id == to {
			return out
		}
	}
}

func mustOpen(t *testing.T, b Browser) {
	t.Helper()
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
}
