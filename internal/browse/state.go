package browse

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a Browser:
//
//	closed -> opening -> open -> closing -> closed
//
// A close may also overtake an open still in progress (opening -> closing).
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// lifecycle holds the state of one browser together with an epoch that is
// bumped on every open and close. Work that suspends captures a guard and
// re-checks it after each suspension point.
type lifecycle struct {
	mu    sync.Mutex
	state State
	epoch uint64
}

// guard is a captured (epoch, state) pair.
type guard struct {
	lc    *lifecycle
	epoch uint64
	want  State
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// beginOpen moves closed -> opening.
func (l *lifecycle) beginOpen() (guard, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateClosed {
		return guard{}, &OpenError{State: l.state}
	}
	l.state = StateOpening
	l.epoch++
	return guard{lc: l, epoch: l.epoch, want: StateOpening}, nil
}

// finishOpen moves opening -> open if g is still current.
func (l *lifecycle) finishOpen(g guard) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(g); err != nil {
		return err
	}
	l.state = StateOpen
	return nil
}

// abortOpen returns a failed open to closed, unless a close already took over.
func (l *lifecycle) abortOpen(g guard) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checkLocked(g) == nil {
		l.state = StateClosed
	}
}

// acquire returns a guard for work that needs the browser open.
func (l *lifecycle) acquire() (guard, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := guard{lc: l, epoch: l.epoch, want: StateOpen}
	if err := l.checkLocked(g); err != nil {
		return guard{}, err
	}
	return g, nil
}

// beginClose moves opening or open -> closing. It returns false when there
// is nothing to close.
func (l *lifecycle) beginClose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateOpen && l.state != StateOpening {
		return false
	}
	l.state = StateClosing
	l.epoch++
	return true
}

func (l *lifecycle) finishClose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateClosed
}

func (l *lifecycle) checkLocked(g guard) error {
	if l.state == g.want && l.epoch == g.epoch {
		return nil
	}
	return &InvalidStateError{
		Expected:   []State{g.want},
		Actual:     l.state,
		Stale:      l.state == g.want,
		BenignRace: g.want == StateOpening && l.epoch != g.epoch,
	}
}

// check fails if the browser left the guarded state or epoch.
func (g guard) check() error {
	if g.lc == nil {
		return &InvalidStateError{Expected: []State{g.want}, Actual: StateClosed}
	}
	g.lc.mu.Lock()
	defer g.lc.mu.Unlock()
	return g.lc.checkLocked(g)
}

// settle is called with the result of a suspending call. A failed guard
// takes precedence over err, so work invalidated by a close reports that
// rather than whatever the torn-down session returned.
func (g guard) settle(err error) error {
	if serr := g.check(); serr != nil {
		return serr
	}
	return err
}
