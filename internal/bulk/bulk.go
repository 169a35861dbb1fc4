// Package bulk copies, moves and deletes many browsed messages one by one.
// A run stops as soon as its context is cancelled and reports how far it got.
package bulk

import (
	"context"
	"errors"
	"fmt"

	"github.com/epalmerini/msgscope/internal/message"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actions are the per-message broker operations.
type Actions interface {
	CopyMsg(ctx context.Context, vpn, fromQueue, toQueue, replicationGroupMsgID string) error
	DeleteMsg(ctx context.Context, vpn, queue string, msgID int64) error
}

// ErrMissingID is returned for records lacking the id an operation needs.
var ErrMissingID = errors.New("record has no message id")

// Report summarizes a run.
type Report struct {
	ID        string
	Requested int
	Completed int
	Aborted   bool
}

type Runner struct {
	Actions Actions
	Logger  *zap.Logger
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Copy copies records from one queue to another.
func (r *Runner) Copy(ctx context.Context, vpn string, records []message.Record, from, to string) (Report, error) {
	return r.run(ctx, "copy", records, func(ctx context.Context, rec message.Record) error {
		return r.copy(ctx, vpn, rec, from, to)
	})
}

// Move copies each record and deletes it from the source queue once the
// copy succeeded.
func (r *Runner) Move(ctx context.Context, vpn string, records []message.Record, from, to string) (Report, error) {
	return r.run(ctx, "move", records, func(ctx context.Context, rec message.Record) error {
		if err := r.copy(ctx, vpn, rec, from, to); err != nil {
			return err
		}
		return r.delete(ctx, vpn, rec, from)
	})
}

// Delete deletes records from queue.
func (r *Runner) Delete(ctx context.Context, vpn string, records []message.Record, queue string) (Report, error) {
	return r.run(ctx, "delete", records, func(ctx context.Context, rec message.Record) error {
		return r.delete(ctx, vpn, rec, queue)
	})
}

func (r *Runner) copy(ctx context.Context, vpn string, rec message.Record, from, to string) error {
	id := ""
	if rec.Meta != nil {
		id = rec.Meta.ReplicationGroupMsgID
	}
	if id == "" {
		return fmt.Errorf("copy %s: %w", rec.Key, ErrMissingID)
	}
	return r.Actions.CopyMsg(ctx, vpn, from, to, id)
}

func (r *Runner) delete(ctx context.Context, vpn string, rec message.Record, queue string) error {
	if rec.Meta == nil || rec.Meta.MsgID == 0 {
		return fmt.Errorf("delete %s: %w", rec.Key, ErrMissingID)
	}
	return r.Actions.DeleteMsg(ctx, vpn, queue, rec.Meta.MsgID)
}

func (r *Runner) run(ctx context.Context, op string, records []message.Record, fn func(context.Context, message.Record) error) (Report, error) {
	rep := Report{ID: uuid.NewString(), Requested: len(records)}
	log := r.logger().With(zap.String("op", op), zap.String("opId", rep.ID))
	log.Info("bulk operation started", zap.Int("requested", rep.Requested))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			rep.Aborted = true
			log.Info("bulk operation aborted",
				zap.Int("completed", rep.Completed), zap.Int("requested", rep.Requested))
			return rep, err
		}
		if err := fn(ctx, rec); err != nil {
			if ctx.Err() != nil {
				rep.Aborted = true
			}
			log.Warn("bulk operation failed",
				zap.String("key", rec.Key), zap.Int("completed", rep.Completed), zap.Error(err))
			return rep, fmt.Errorf("%s failed after %d of %d messages: %w", op, rep.Completed, rep.Requested, err)
		}
		rep.Completed++
	}

	log.Info("bulk operation finished", zap.Int("completed", rep.Completed))
	return rep, nil
}
