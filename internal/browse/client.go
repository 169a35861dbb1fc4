package browse

import (
	"context"
	"time"

	"github.com/epalmerini/msgscope/internal/broker"
	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
	"go.uber.org/zap"
)

// Order is the direction of a metadata listing.
type Order int

const (
	OrderOldest Order = iota
	OrderNewest
)

// MsgQuery selects a page of message metadata. FromMsgID and FromTime are
// inclusive bounds in the direction of Order; zero values mean unbounded.
type MsgQuery struct {
	Order     Order
	FromMsgID int64
	FromTime  time.Time
	Cursor    string
	Count     int
}

// QueueInfo is the subset of queue state the browsers need.
type QueueInfo struct {
	Name            string
	NetworkTopic    string
	SpooledMsgCount int64
}

type ReplayLog struct {
	Name    string
	Enabled bool
}

// Management is the management API collaborator.
type Management interface {
	ReplayLogs(ctx context.Context, vpn string) ([]ReplayLog, error)
	Queue(ctx context.Context, vpn, queue string) (QueueInfo, error)
	QueueSubscriptions(ctx context.Context, vpn, queue, cursor string, count int) (paging.Page[string], error)
	QueueMsgs(ctx context.Context, vpn, queue string, q MsgQuery) (paging.Page[message.Meta], error)
	ReplayLogMsgs(ctx context.Context, vpn, replayLog string, q MsgQuery) (paging.Page[message.Meta], error)
}

// ReplayKind selects where a replay starts.
type ReplayKind int

const (
	ReplayNone ReplayKind = iota
	ReplayBeginning
	ReplayFromTime
	// ReplayAfterMsg starts right after the message with the given
	// replication-group message id.
	ReplayAfterMsg
)

type ReplayStart struct {
	Kind                       ReplayKind
	Time                       time.Time
	AfterReplicationGroupMsgID string
}

// ConsumerOptions binds a consumer to Queue. A Replay other than ReplayNone
// makes the broker replay ReplayLog into Queue when the consumer connects.
type ConsumerOptions struct {
	Queue     string
	ReplayLog string
	Replay    ReplayStart
}

type MessageConsumer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// QueueBrowser reads queue contents without consuming them.
type QueueBrowser interface {
	Connect(ctx context.Context) error
	// ReadMessages returns up to count messages. It stops early when no
	// message arrives within idle of the previous one.
	ReadMessages(ctx context.Context, count int, idle time.Duration) ([]message.BusMessage, error)
	Disconnect(ctx context.Context) error
}

// Session is the messaging session collaborator.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ProvisionQueue(ctx context.Context, name string) error
	DeprovisionQueue(ctx context.Context, name string) error
	Subscribe(ctx context.Context, queue, topic string) error
	CreateMessageConsumer(opts ConsumerOptions) MessageConsumer
	CreateQueueBrowser(queue string) QueueBrowser
}

const (
	DefaultPageSize    = 100
	DefaultReadTimeout = 2 * time.Second
)

// Deps carries the collaborator factories and tuning shared by all browsers.
type Deps struct {
	Management func(conn broker.Connection) (Management, error)
	Session    func(conn broker.Connection) Session
	Merger     message.Merger
	Logger     *zap.Logger
	Retry      *RetryPolicy

	PageSize int
	// ReadTimeout is the per-message idle timeout when reading a queue.
	ReadTimeout time.Duration
	// ReplaySlack is how many messages past the page are read from a
	// queued-order replay, to cover replayed messages no longer in the queue.
	ReplaySlack int
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Retry == nil {
		d.Retry = DefaultRetryPolicy()
	}
	if d.PageSize <= 0 {
		d.PageSize = DefaultPageSize
	}
	if d.ReadTimeout <= 0 {
		d.ReadTimeout = DefaultReadTimeout
	}
	if d.ReplaySlack <= 0 {
		d.ReplaySlack = d.PageSize
	}
	return d
}
