package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/epalmerini/msgscope/internal/message"
	amqp "github.com/rabbitmq/amqp091-go"
)

// queueBrowser reads a queue with basic.get and never acknowledges, so
// closing its channel puts every read message back.
type queueBrowser struct {
	s     *Session
	queue string
	ch    *amqp.Channel
}

func (b *queueBrowser) Connect(context.Context) error {
	ch, err := b.s.newChannel()
	if err != nil {
		return b.s.mapError("browse "+b.queue, err)
	}
	b.ch = ch
	return nil
}

func (b *queueBrowser) ReadMessages(ctx context.Context, count int, idle time.Duration) ([]message.BusMessage, error) {
	if b.ch == nil {
		return nil, errors.New("queue browser is not connected")
	}
	msgs, err := poll(ctx, b.ch, b.queue, count, idle, b.s.opts.PollInterval)
	if err != nil && ctx.Err() == nil {
		err = b.s.mapError("browse "+b.queue, err)
	}
	return msgs, err
}

// getter is the part of *amqp.Channel a queue browser reads with.
type getter interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

// poll reads up to count messages from queue. It gives up once nothing has
// arrived for idle, checking again every interval in between.
func poll(ctx context.Context, g getter, queue string, count int, idle, interval time.Duration) ([]message.BusMessage, error) {
	var msgs []message.BusMessage
	deadline := time.Now().Add(idle)
	for len(msgs) < count {
		d, ok, err := g.Get(queue, false)
		if err != nil {
			return msgs, err
		}
		if ok {
			msgs = append(msgs, toBusMessage(d))
			deadline = time.Now().Add(idle)
			continue
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(min(wait, interval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return msgs, ctx.Err()
		case <-timer.C:
		}
	}
	return msgs, nil
}

func (b *queueBrowser) Disconnect(context.Context) error {
	if b.ch == nil {
		return nil
	}
	err := ignoreClosed(b.ch.Close())
	b.ch = nil
	return err
}
