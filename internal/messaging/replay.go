package messaging

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/epalmerini/msgscope/internal/browse"
	"github.com/epalmerini/msgscope/internal/message"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	streamOffsetHeader  = "x-stream-offset"
	destinationHeader   = "x-msgscope-destination"
	replicationIDHeader = "x-msgscope-replication-id"
	replayPrefetch      = 256
)

// replayConsumer copies a replay log stream into a queue. Connect runs the
// whole replay and returns once the stream has gone idle.
type replayConsumer struct {
	s    *Session
	opts browse.ConsumerOptions
	ch   *amqp.Channel
	// origin is the replication group learned from the replay start, used
	// to stamp the ids of replayed messages.
	origin string
}

// publisher is the part of *amqp.Channel a replay writes to.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// streamOffset maps a replay start to an x-stream-offset argument. A
// replication-group id's sequence is the entry's stream offset, so replay
// resumes at the next one. The replication group of the id is returned too.
func streamOffset(start browse.ReplayStart) (offset any, origin string, err error) {
	switch start.Kind {
	case browse.ReplayBeginning:
		return "first", "", nil
	case browse.ReplayFromTime:
		return start.Time, "", nil
	case browse.ReplayAfterMsg:
		id, err := message.ParseReplicationID(start.AfterReplicationGroupMsgID)
		if err != nil {
			return nil, "", err
		}
		if id.Seq >= math.MaxInt64 {
			return nil, "", fmt.Errorf("replication group message id %q is past the end of the stream", start.AfterReplicationGroupMsgID)
		}
		return int64(id.Seq) + 1, id.Origin, nil
	default:
		return nil, "", fmt.Errorf("unsupported replay start %d", start.Kind)
	}
}

func (c *replayConsumer) Connect(ctx context.Context) error {
	if c.opts.Replay.Kind == browse.ReplayNone {
		return nil
	}
	offset, origin, err := streamOffset(c.opts.Replay)
	if err != nil {
		return err
	}
	c.origin = origin

	ch, err := c.s.newChannel()
	if err != nil {
		return c.s.mapError("open replay channel", err)
	}
	c.ch = ch
	if err := ch.Qos(replayPrefetch, 0, false); err != nil {
		return c.s.mapError("replay", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx,
		c.opts.ReplayLog,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		amqp.Table{streamOffsetHeader: offset},
	)
	if err != nil {
		return c.s.mapError("replay "+c.opts.ReplayLog, err)
	}
	return c.drain(ctx, deliveries, ch)
}

// drain copies matching deliveries to the target queue until the stream
// delivers nothing for ReplayIdle or closes.
func (c *replayConsumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery, pub publisher) error {
	patterns := c.s.subscriptions(c.opts.Queue)
	log := c.s.log.With(zap.String("replayLog", c.opts.ReplayLog), zap.String("queue", c.opts.Queue))

	copied, seen := 0, 0
	idle := time.NewTimer(c.s.opts.ReplayIdle)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			log.Debug("replay finished", zap.Int("seen", seen), zap.Int("copied", copied))
			return nil
		case d, ok := <-deliveries:
			if !ok {
				log.Debug("replay stream closed", zap.Int("seen", seen), zap.Int("copied", copied))
				return nil
			}
			seen++
			if MatchAny(patterns, d.RoutingKey) {
				if err := c.republish(ctx, pub, d); err != nil {
					return err
				}
				copied++
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("failed to ack replayed message: %w", err)
			}
			idle.Reset(c.s.opts.ReplayIdle)
		}
	}
}

// republish puts d on the target queue through the default exchange,
// keeping its original routing key and replication id in headers.
func (c *replayConsumer) republish(ctx context.Context, pub publisher, d amqp.Delivery) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[destinationHeader] = d.RoutingKey
	if off, ok := offsetOf(d.Headers[streamOffsetHeader]); ok {
		headers[replicationIDHeader] = message.ReplicationID{Origin: c.origin, Seq: off}.String()
	}

	err := pub.PublishWithContext(ctx, "", c.opts.Queue, false, false, amqp.Publishing{
		Headers:         headers,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationId:   d.CorrelationId,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
		MessageId:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		UserId:          d.UserId,
		AppId:           d.AppId,
		Body:            d.Body,
	})
	if err != nil {
		return c.s.mapError("publish to "+c.opts.Queue, err)
	}
	return nil
}

func offsetOf(v any) (uint64, bool) {
	switch off := v.(type) {
	case int64:
		return uint64(off), off >= 0
	case int32:
		return uint64(off), off >= 0
	case int:
		return uint64(off), off >= 0
	default:
		return 0, false
	}
}

func (c *replayConsumer) Disconnect(context.Context) error {
	if c.ch == nil {
		return nil
	}
	err := ignoreClosed(c.ch.Close())
	c.ch = nil
	return err
}
