package messaging

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/epalmerini/msgscope/internal/message"
	amqp "github.com/rabbitmq/amqp091-go"
)

const spoolMsgIDHeader = "x-spool-msg-id"

// TopicToRoutingKey converts a slash-delimited topic subscription to an AMQP
// topic pattern: levels are joined with dots and a trailing ">" becomes "#".
func TopicToRoutingKey(topic string) string {
	levels := strings.Split(topic, "/")
	if levels[len(levels)-1] == ">" {
		levels[len(levels)-1] = "#"
	}
	return strings.Join(levels, ".")
}

// RoutingKeyToTopic is the inverse of TopicToRoutingKey for concrete keys.
func RoutingKeyToTopic(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}

// Match reports whether routing key matches an AMQP topic pattern, where
// "*" is exactly one word and "#" is zero or more words.
func Match(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

func MatchAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if Match(p, key) {
			return true
		}
	}
	return false
}

// toBusMessage converts a delivery. Broker bookkeeping headers are lifted
// into ids and headers; the rest become user properties.
func toBusMessage(d amqp.Delivery) message.BusMessage {
	routingKey := d.RoutingKey
	destType := "queue"
	if v, ok := d.Headers[destinationHeader].(string); ok {
		routingKey = v
		destType = "topic"
	}

	msg := message.BusMessage{
		ReplicationGroupMsgID: replicationID(d.Headers),
		LegacyMsgID:           headerID(d.Headers[spoolMsgIDHeader]),
		Headers: message.Headers{
			Destination:            RoutingKeyToTopic(routingKey),
			DestinationType:        destType,
			CorrelationID:          d.CorrelationId,
			ApplicationMessageID:   d.MessageId,
			ApplicationMessageType: d.Type,
			DeliveryMode:           deliveryMode(d.DeliveryMode),
			SenderTimestamp:        d.Timestamp,
			ReplyTo:                d.ReplyTo,
			Priority:               int(d.Priority),
			Redelivered:            d.Redelivered,
		},
		Attachment: d.Body,
	}
	if ttl, err := strconv.ParseInt(d.Expiration, 10, 64); err == nil {
		msg.Headers.TimeToLive = ttl
	}

	props := maps.Clone(map[string]any(d.Headers))
	for _, k := range []string{streamOffsetHeader, spoolMsgIDHeader, destinationHeader, replicationIDHeader} {
		delete(props, k)
	}
	if len(props) > 0 {
		msg.UserProperties = props
	}

	if d.ContentType == "application/json" && json.Valid(d.Body) {
		var v any
		if err := json.Unmarshal(d.Body, &v); err == nil {
			msg.Structured = v
		}
	}
	return msg
}

// replicationID prefers the id stamped on replay and otherwise derives one
// from a stream offset, without an origin.
func replicationID(h amqp.Table) string {
	if id, ok := h[replicationIDHeader].(string); ok && id != "" {
		return id
	}
	if off, ok := offsetOf(h[streamOffsetHeader]); ok {
		return message.ReplicationID{Seq: off}.String()
	}
	return ""
}

func headerID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case int64:
		return strconv.FormatInt(id, 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case int:
		return strconv.Itoa(id)
	default:
		return fmt.Sprint(id)
	}
}

func deliveryMode(mode uint8) string {
	switch mode {
	case amqp.Persistent:
		return "persistent"
	case amqp.Transient:
		return "non-persistent"
	default:
		return ""
	}
}
