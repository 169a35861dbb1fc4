package browse

import "fmt"

// Variant is the closed set of browse strategies.
type Variant int

const (
	VariantNull Variant = iota
	VariantDirect
	VariantQueuedOrder
	VariantReplay
)

func (v Variant) String() string {
	switch v {
	case VariantNull:
		return "null"
	case VariantDirect:
		return "direct"
	case VariantQueuedOrder:
		return "queued-order"
	case VariantReplay:
		return "replay"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// VariantFor picks the strategy for browsing a kind of source in mode.
//
//	kind   default  oldest   newest   time    msgid
//	basic  direct   -        -        -       -
//	queue  direct   queued   queued   replay  replay
//	topic  replay   replay   -        replay  replay
func VariantFor(kind SourceKind, mode Mode) (Variant, error) {
	switch kind {
	case KindBasic:
		if mode == ModeDefault {
			return VariantDirect, nil
		}
	case KindQueue:
		switch mode {
		case ModeDefault:
			return VariantDirect, nil
		case ModeOldest, ModeNewest:
			return VariantQueuedOrder, nil
		case ModeTime, ModeMsgID:
			return VariantReplay, nil
		}
	case KindTopic:
		switch mode {
		case ModeDefault, ModeOldest, ModeTime, ModeMsgID:
			return VariantReplay, nil
		}
	}
	return VariantNull, &UnsupportedModeError{Kind: kind, Mode: mode}
}

// NewBrowser returns a closed browser for src. A nil src gives a browser
// with no pages.
func NewBrowser(src *Source, mode Mode, from StartFrom, deps Deps) (Browser, error) {
	if src == nil {
		return nullBrowser{}, nil
	}
	v, err := VariantFor(src.Kind, mode)
	if err != nil {
		return nil, err
	}

	switch v {
	case VariantDirect:
		return newDirectBrowser(*src, deps), nil
	case VariantQueuedOrder:
		order := OrderOldest
		if mode == ModeNewest {
			order = OrderNewest
		}
		return newQueuedBrowser(*src, deps, order), nil
	case VariantReplay:
		// Oldest and default topic browses replay the whole log.
		if mode == ModeDefault || mode == ModeOldest {
			from = StartFrom{}
		}
		return newReplayBrowser(*src, deps, from), nil
	default:
		return nullBrowser{}, nil
	}
}
