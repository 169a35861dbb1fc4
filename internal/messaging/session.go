// Package messaging implements the browse session on AMQP 0-9-1.
//
// Topics use the broker's slash notation ("orders/*/created", "orders/>")
// and are bound to a topic exchange as routing keys ("orders.*.created",
// "orders.#"). A replay log is a stream queue holding everything published
// to the exchange; replaying reads the stream from an offset and republishes
// the deliveries whose routing key matches a queue's subscriptions.
//
// The sequence part of a replication-group message id ("rmid1:...") is the
// entry's offset in the replay log stream. Replayed messages carry that id,
// so they join with the metadata the management API reports for them.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/epalmerini/msgscope/internal/broker"
	"github.com/epalmerini/msgscope/internal/browse"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultExchange     = "amq.topic"
	DefaultReplayIdle   = 500 * time.Millisecond
	DefaultPollInterval = 50 * time.Millisecond
)

type Options struct {
	// Exchange is the topic exchange subscriptions are bound to.
	Exchange string
	// ReplayIdle ends a replay once the stream delivered nothing for this long.
	ReplayIdle   time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Exchange == "" {
		o.Exchange = DefaultExchange
	}
	if o.ReplayIdle <= 0 {
		o.ReplayIdle = DefaultReplayIdle
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Session is one AMQP connection with a channel for topology changes.
type Session struct {
	url  string
	user string
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	// subs holds the topic subscriptions made per queue in this session.
	subs map[string][]string
}

func NewSession(conn broker.Connection, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		url:  conn.MessagingURL(),
		user: conn.Messaging.Username,
		opts: opts,
		log:  opts.Logger.With(zap.String("vpn", conn.MsgVPN)),
		subs: make(map[string][]string),
	}
}

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	cfg := amqp.Config{
		Properties: amqp.Table{"connection_name": "msgscope-" + uuid.NewString()},
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
	}
	conn, err := dial(ctx, s.url, cfg)
	if err != nil {
		return s.mapError("connect", fmt.Errorf("failed to connect: %w", err))
	}

	ch, err := conn.Channel()
	if err != nil {
		return errors.Join(s.mapError("open channel", fmt.Errorf("failed to open channel: %w", err)), conn.Close())
	}

	s.conn = conn
	s.channel = ch
	s.log.Debug("session connected")
	return nil
}

// dial runs amqp.DialConfig so that ctx can abandon a hanging connect.
func dial(ctx context.Context, url string, cfg amqp.Config) (*amqp.Connection, error) {
	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := amqp.DialConfig(url, cfg)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (s *Session) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chanErr, connErr error
	if s.channel != nil {
		chanErr = ignoreClosed(s.channel.Close())
	}
	if s.conn != nil {
		connErr = ignoreClosed(s.conn.Close())
	}
	s.channel, s.conn = nil, nil
	clear(s.subs)
	return errors.Join(chanErr, connErr)
}

func (s *Session) topology() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil, errors.New("session is not connected")
	}
	return s.channel, nil
}

func (s *Session) newChannel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, errors.New("session is not connected")
	}
	return s.conn.Channel()
}

func (s *Session) ProvisionQueue(_ context.Context, name string) error {
	ch, err := s.topology()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(
		name,
		false, // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return s.mapError("provision queue "+name, err)
	}
	return nil
}

func (s *Session) DeprovisionQueue(_ context.Context, name string) error {
	ch, err := s.topology()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDelete(name, false, false, false); err != nil {
		return s.mapError("deprovision queue "+name, err)
	}
	s.mu.Lock()
	delete(s.subs, name)
	s.mu.Unlock()
	return nil
}

func (s *Session) Subscribe(_ context.Context, queue, topic string) error {
	ch, err := s.topology()
	if err != nil {
		return err
	}
	key := TopicToRoutingKey(topic)
	if err := ch.QueueBind(queue, key, s.opts.Exchange, false, nil); err != nil {
		return s.mapError("subscribe "+queue, err)
	}
	s.mu.Lock()
	s.subs[queue] = append(s.subs[queue], key)
	s.mu.Unlock()
	return nil
}

func (s *Session) subscriptions(queue string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subs[queue]...)
}

func (s *Session) CreateMessageConsumer(opts browse.ConsumerOptions) browse.MessageConsumer {
	return &replayConsumer{s: s, opts: opts}
}

func (s *Session) CreateQueueBrowser(queue string) browse.QueueBrowser {
	return &queueBrowser{s: s, queue: queue}
}

// mapError turns access refusals into browse.PermissionError.
func (s *Session) mapError(op string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
		return &browse.PermissionError{Principal: s.user, Operation: op, Err: err}
	}
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

var _ browse.Session = (*Session)(nil)
