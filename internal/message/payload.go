package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"
)

// BinaryPayloadUnavailable is shown for messages whose attachment was
// expected but could not be retrieved.
const BinaryPayloadUnavailable = "<binary payload unavailable>"

type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadText
	PayloadStructured
	PayloadUnavailable
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadStructured:
		return "structured"
	case PayloadUnavailable:
		return "unavailable"
	default:
		return "empty"
	}
}

// Payload is the content of a Record. Value is only set for structured
// payloads and is passed through untouched.
type Payload struct {
	Kind  PayloadKind
	Text  string
	Value any

	raw []byte
}

func (p Payload) String() string {
	switch p.Kind {
	case PayloadText:
		return p.Text
	case PayloadStructured:
		return fmt.Sprint(p.Value)
	case PayloadUnavailable:
		return BinaryPayloadUnavailable
	default:
		return ""
	}
}

func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PayloadStructured:
		return json.Marshal(p.Value)
	default:
		return json.Marshal(p.String())
	}
}

// ExtractPayload pulls the content out of msg. A structured value wins over
// the raw attachment. expectedSize is the attachment size the management API
// reported; when it is non-zero and nothing could be read, the payload is
// PayloadUnavailable rather than empty.
func ExtractPayload(msg BusMessage, expectedSize int64) Payload {
	if msg.Structured != nil {
		return Payload{Kind: PayloadStructured, Value: msg.Structured}
	}

	text, raw, ok := attachmentText(msg.Attachment)
	switch {
	case ok && text != "":
		return Payload{Kind: PayloadText, Text: text, raw: raw}
	case !ok && expectedSize > 0:
		return Payload{Kind: PayloadUnavailable}
	case ok && text == "" && expectedSize > 0:
		return Payload{Kind: PayloadUnavailable}
	default:
		return Payload{Kind: PayloadEmpty}
	}
}

// attachmentText converts the supported attachment forms to a string. raw is
// the underlying bytes for binary forms; ok is false when there was no
// attachment at all or its form is unknown.
func attachmentText(a any) (text string, raw []byte, ok bool) {
	switch v := a.(type) {
	case nil:
		return "", nil, false
	case string:
		return v, nil, true
	case []byte:
		return decodeUTF8(v), v, true
	case json.RawMessage:
		return decodeUTF8(v), v, true
	case []int:
		b, ok := intsToBytes(v)
		if !ok {
			return "", nil, false
		}
		return decodeUTF8(b), b, true
	case []any:
		b := make([]byte, 0, len(v))
		for _, e := range v {
			n, ok := anyToByte(e)
			if !ok {
				return "", nil, false
			}
			b = append(b, n)
		}
		return decodeUTF8(b), b, true
	case io.Reader:
		b, err := io.ReadAll(v)
		if err != nil {
			return "", nil, false
		}
		return decodeUTF8(b), b, true
	case fmt.Stringer:
		return v.String(), nil, true
	default:
		return "", nil, false
	}
}

// decodeUTF8 returns b as a string, replacing invalid sequences.
func decodeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
}

func intsToBytes(v []int) ([]byte, bool) {
	b := make([]byte, len(v))
	for i, n := range v {
		if n < 0 || n > 255 {
			return nil, false
		}
		b[i] = byte(n)
	}
	return b, true
}

func anyToByte(v any) (byte, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		n = int64(x)
	case uint8:
		return x, true
	default:
		return 0, false
	}
	if n < 0 || n > 255 {
		return 0, false
	}
	return byte(n), true
}
