package browse

import (
	"context"
	"errors"
	"fmt"

	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/randutil"
	"go.uber.org/zap"
)

var tempQueues = randutil.NewSequence("msgscope/tmp")

// replayResult is what a temporary queue held after a replay.
type replayResult struct {
	msgs []message.BusMessage
	// spooled is the temporary queue's message count, which can exceed
	// len(msgs) when more was replayed than read.
	spooled int64
}

// fillTempQueue replays the source's topics from start into a new temporary
// queue and reads up to count messages from it. The returned cleanup must
// always be called, also when err is not nil; it deprovisions the queue and
// disconnects the session with whatever was set up.
func (b *base) fillTempQueue(ctx context.Context, g guard, start ReplayStart, count int) (replayResult, func(), error) {
	queue := tempQueues.Next()
	log := b.log.With(zap.String("tempQueue", queue))
	sess := b.deps.Session(b.src.Connection)

	var connected, provisioned bool
	cleanup := func() {
		cctx := context.WithoutCancel(ctx)
		var errs []error
		if provisioned {
			if err := sess.DeprovisionQueue(cctx, queue); err != nil {
				errs = append(errs, fmt.Errorf("deprovision: %w", err))
			}
		}
		if connected {
			if err := sess.Disconnect(cctx); err != nil {
				errs = append(errs, fmt.Errorf("disconnect: %w", err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			log.Warn("temporary queue cleanup failed", zap.Error(err))
		}
	}

	err := sess.Connect(ctx)
	connected = err == nil
	if err := g.settle(err); err != nil {
		return replayResult{}, cleanup, fmt.Errorf("failed to connect session: %w", err)
	}

	err = sess.ProvisionQueue(ctx, queue)
	provisioned = err == nil
	if err := g.settle(err); err != nil {
		return replayResult{}, cleanup, fmt.Errorf("failed to provision %q: %w", queue, err)
	}

	for _, topic := range b.topics {
		if err := g.settle(sess.Subscribe(ctx, queue, topic)); err != nil {
			return replayResult{}, cleanup, fmt.Errorf("failed to subscribe %q to %q: %w", queue, topic, err)
		}
	}

	consumer := sess.CreateMessageConsumer(ConsumerOptions{Queue: queue, ReplayLog: b.replayLog, Replay: start})
	if err := g.settle(consumer.Connect(ctx)); err != nil {
		return replayResult{}, cleanup, fmt.Errorf("failed to start replay: %w", err)
	}
	if err := g.settle(consumer.Disconnect(ctx)); err != nil {
		return replayResult{}, cleanup, fmt.Errorf("failed to stop replay consumer: %w", err)
	}

	qb := sess.CreateQueueBrowser(queue)
	if err := g.settle(qb.Connect(ctx)); err != nil {
		return replayResult{}, cleanup, fmt.Errorf("failed to browse %q: %w", queue, err)
	}
	msgs, err := qb.ReadMessages(ctx, count, b.deps.ReadTimeout)
	if derr := qb.Disconnect(context.WithoutCancel(ctx)); derr != nil {
		log.Debug("queue browser disconnect failed", zap.Error(derr))
	}
	if err := g.settle(err); err != nil {
		return replayResult{}, cleanup, fmt.Errorf("failed to read %q: %w", queue, err)
	}

	info, err := b.mgmt.Queue(ctx, b.vpn(), queue)
	if err := g.settle(err); err != nil {
		return replayResult{}, cleanup, fmt.Errorf("failed to get temporary queue: %w", err)
	}

	log.Debug("replay read",
		zap.Int("read", len(msgs)),
		zap.Int64("spooled", info.SpooledMsgCount))
	return replayResult{msgs: msgs, spooled: info.SpooledMsgCount}, cleanup, nil
}

// replay runs fillTempQueue and its cleanup.
func (b *base) replay(ctx context.Context, g guard, start ReplayStart, count int) (replayResult, error) {
	res, cleanup, err := b.fillTempQueue(ctx, g, start, count)
	cleanup()
	return res, err
}

// replayFrom resolves a message id to the replay position right before it,
// which is just after the newest replay log entry with a smaller id. When no
// such entry can be found the replay starts at the beginning of the log.
func (b *base) replayFrom(ctx context.Context, g guard, msgID int64) (ReplayStart, error) {
	beginning := ReplayStart{Kind: ReplayBeginning}
	if msgID-1 <= 0 {
		return beginning, nil
	}

	pg, err := b.mgmt.ReplayLogMsgs(ctx, b.vpn(), b.replayLog, MsgQuery{
		Order:     OrderNewest,
		FromMsgID: msgID - 1,
		Count:     1,
	})
	if err := g.check(); err != nil {
		return ReplayStart{}, err
	}
	if err := ctx.Err(); err != nil {
		return ReplayStart{}, err
	}
	var permErr *PermissionError
	if errors.As(err, &permErr) {
		return ReplayStart{}, err
	}
	if err != nil {
		b.log.Debug("replay position lookup failed, replaying from beginning",
			zap.Int64("msgId", msgID), zap.Error(err))
		return beginning, nil
	}
	if len(pg.Items) == 0 || pg.Items[0].ReplicationGroupMsgID == "" {
		b.log.Debug("no replay log entry before message, replaying from beginning",
			zap.Int64("msgId", msgID))
		return beginning, nil
	}
	return ReplayStart{Kind: ReplayAfterMsg, AfterReplicationGroupMsgID: pg.Items[0].ReplicationGroupMsgID}, nil
}
