package browse

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Controller owns the active Browser and swaps it when the caller selects
// another source.
type Controller struct {
	deps Deps
	log  *zap.Logger

	mu     sync.Mutex
	active Browser
	gen    uint64
}

func NewController(deps Deps) *Controller {
	deps = deps.withDefaults()
	return &Controller{
		deps:   deps,
		log:    deps.Logger,
		active: nullBrowser{},
	}
}

// SwitchTo closes the active browser and opens one for src. It never fails:
// if the new browser cannot be opened, the returned browser reports the open
// error from every page call.
func (c *Controller) SwitchTo(ctx context.Context, src *Source, mode Mode, from StartFrom) Browser {
	b, err := NewBrowser(src, mode, from, c.deps)
	if err != nil {
		b = &failedBrowser{err: err}
	}

	c.mu.Lock()
	prev := c.active
	c.active = b
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.closeQuietly(ctx, prev)

	if err := b.Open(ctx); err != nil {
		if IsBenignRace(err) {
			c.log.Debug("browser closed while opening", zap.Error(err))
		} else {
			c.log.Warn("failed to open browser", zap.Error(err))
		}
		failed := &failedBrowser{err: err}
		c.mu.Lock()
		if c.gen == gen {
			c.active = failed
		}
		c.mu.Unlock()
		return failed
	}
	return b
}

// Active returns the current browser.
func (c *Controller) Active() Browser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close closes the active browser and leaves a null browser in its place.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	prev := c.active
	c.active = nullBrowser{}
	c.gen++
	c.mu.Unlock()
	return prev.Close(ctx)
}

func (c *Controller) closeQuietly(ctx context.Context, b Browser) {
	if b == nil {
		return
	}
	if err := b.Close(ctx); err != nil {
		if IsBenignRace(err) {
			c.log.Debug("ignoring close error", zap.Error(err))
			return
		}
		c.log.Warn("ignoring close error", zap.Error(err))
	}
}
