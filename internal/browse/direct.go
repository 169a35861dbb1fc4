package browse

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/epalmerini/msgscope/internal/message"
	"go.uber.org/zap"
)

// directSource browses a queue in delivery order with a queue browser. The
// browser cursor only moves forward, so the page cursor is a page index and
// going back means reconnecting and skipping to the page again.
type directSource struct {
	*base

	mu      sync.Mutex
	sess    Session
	qb      QueueBrowser
	pending []message.BusMessage
	// delivered counts messages handed out or skipped since the browser
	// was (re)connected; pending holds read-ahead beyond that.
	delivered int
}

func newDirectBrowser(src Source, deps Deps) *pagedBrowser[int] {
	b := newBase(src, deps)
	return &pagedBrowser[int]{base: b, source: &directSource{base: b}}
}

func (d *directSource) start() int { return 0 }

func (d *directSource) open(ctx context.Context, g guard) error {
	sess := d.deps.Session(d.src.Connection)
	cerr := sess.Connect(ctx)
	if err := g.settle(cerr); err != nil {
		if cerr == nil {
			d.disconnect(ctx, sess)
		}
		return fmt.Errorf("failed to connect session: %w", err)
	}

	d.mu.Lock()
	d.sess = sess
	d.mu.Unlock()

	if err := d.connectBrowser(ctx, g); err != nil {
		// A concurrent close may already have taken the session.
		d.mu.Lock()
		owned := d.sess == sess
		if owned {
			d.sess = nil
		}
		d.mu.Unlock()
		if owned {
			d.disconnect(ctx, sess)
		}
		return err
	}
	return nil
}

// connectBrowser creates and connects a fresh queue browser, retrying
// transient failures.
func (d *directSource) connectBrowser(ctx context.Context, g guard) error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return g.settle(errors.New("session is closed"))
	}

	var qb QueueBrowser
	err := d.deps.Retry.Execute(ctx, func(ctx context.Context) error {
		qb = sess.CreateQueueBrowser(d.src.Name)
		cerr := qb.Connect(ctx)
		err := g.settle(cerr)
		if err != nil && cerr == nil {
			// Connected, but a close got here first.
			if derr := qb.Disconnect(context.WithoutCancel(ctx)); derr != nil {
				d.log.Debug("queue browser disconnect failed", zap.Error(derr))
			}
		}
		if err != nil && isRetryable(err) {
			d.log.Debug("queue browser connect failed", zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to browse queue %q: %w", d.src.Name, err)
	}

	d.mu.Lock()
	d.qb = qb
	d.pending = nil
	d.delivered = 0
	d.mu.Unlock()
	return nil
}

func (d *directSource) fetch(ctx context.Context, g guard, at int) (page[int], error) {
	target := at * d.deps.PageSize
	if target < d.delivered {
		d.log.Debug("rewinding queue browser", zap.Int("page", at))
		if err := d.reconnectBrowser(ctx, g); err != nil {
			return page[int]{}, err
		}
	}

	if err := d.fill(ctx, g, target-d.delivered+d.deps.PageSize+1); err != nil {
		return page[int]{}, err
	}
	d.take(target - d.delivered)
	msgs := d.take(d.deps.PageSize)

	return page[int]{
		records: d.deps.Merger.MergeInMessageOrder(nil, msgs),
		next:    at + 1,
		hasNext: len(d.pending) > 0,
	}, nil
}

func (d *directSource) reconnectBrowser(ctx context.Context, g guard) error {
	d.mu.Lock()
	qb := d.qb
	d.qb = nil
	d.mu.Unlock()
	if qb != nil {
		if err := g.settle(qb.Disconnect(ctx)); err != nil {
			var se *InvalidStateError
			if errors.As(err, &se) {
				return err
			}
			d.log.Debug("queue browser disconnect failed", zap.Error(err))
		}
	}
	return d.connectBrowser(ctx, g)
}

// fill reads until n messages are pending or the queue runs dry.
func (d *directSource) fill(ctx context.Context, g guard, n int) error {
	if len(d.pending) >= n {
		return nil
	}
	d.mu.Lock()
	qb := d.qb
	d.mu.Unlock()
	if qb == nil {
		return g.settle(errors.New("queue browser is closed"))
	}

	msgs, err := qb.ReadMessages(ctx, n-len(d.pending), d.deps.ReadTimeout)
	if err := g.settle(err); err != nil {
		return fmt.Errorf("failed to read queue %q: %w", d.src.Name, err)
	}
	d.pending = append(d.pending, msgs...)
	return nil
}

func (d *directSource) take(n int) []message.BusMessage {
	n = min(n, len(d.pending))
	out := slices.Clone(d.pending[:n])
	d.pending = d.pending[n:]
	d.delivered += n
	return out
}

func (d *directSource) close(ctx context.Context) error {
	d.mu.Lock()
	sess, qb := d.sess, d.qb
	d.sess, d.qb = nil, nil
	d.mu.Unlock()

	var errs []error
	if qb != nil {
		if err := qb.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect queue browser: %w", err))
		}
	}
	if sess != nil {
		if err := sess.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect session: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (d *directSource) disconnect(ctx context.Context, sess Session) {
	if err := sess.Disconnect(context.WithoutCancel(ctx)); err != nil {
		d.log.Warn("session disconnect failed", zap.Error(err))
	}
}
