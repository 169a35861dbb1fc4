// Package browse implements paginated, non-destructive views of the messages
// held in a broker queue or replay log.
//
// A Browser is created for one Source and browse Mode, opened once, paged
// through and closed once. Browsers are not safe for concurrent paging, but
// Close may be called from another goroutine to invalidate an in-flight page
// fetch: the fetch then fails with an *InvalidStateError instead of finishing
// against a torn-down session.
package browse

import (
	"context"
	"fmt"
	"time"

	"github.com/epalmerini/msgscope/internal/broker"
	"github.com/epalmerini/msgscope/internal/message"
)

// SourceKind tells what a Source names.
type SourceKind int

const (
	// KindBasic is a queue browsed over the messaging session only, without
	// management access.
	KindBasic SourceKind = iota
	KindQueue
	KindTopic
)

func (k SourceKind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindQueue:
		return "queue"
	case KindTopic:
		return "topic"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseSourceKind is the inverse of SourceKind.String.
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "basic":
		return KindBasic, nil
	case "queue", "":
		return KindQueue, nil
	case "topic":
		return KindTopic, nil
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// Mode selects the order in which a source is browsed.
type Mode int

const (
	ModeDefault Mode = iota
	ModeOldest
	ModeNewest
	ModeTime
	ModeMsgID
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeOldest:
		return "oldest"
	case ModeNewest:
		return "newest"
	case ModeTime:
		return "time"
	case ModeMsgID:
		return "msgid"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	for m := ModeDefault; m <= ModeMsgID; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	if s == "" {
		return ModeDefault, nil
	}
	return 0, fmt.Errorf("unknown browse mode %q", s)
}

// Source identifies what is browsed. It is immutable for the lifetime of a
// Browser; browsing something else means switching to a new Browser.
type Source struct {
	Kind       SourceKind
	Name       string
	Connection broker.Connection
	// Topics is only used by KindTopic sources.
	Topics []string
}

// StartFrom positions the first page of a replay browse. The zero value
// starts at the beginning of the replay log.
type StartFrom struct {
	MsgID int64
	Time  time.Time
}

// Browser is the common contract of every browse strategy.
type Browser interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	FirstPage(ctx context.Context) ([]message.Record, error)
	NextPage(ctx context.Context) ([]message.Record, error)
	PrevPage(ctx context.Context) ([]message.Record, error)
	HasNextPage() bool
	HasPrevPage() bool
}
