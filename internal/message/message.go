package message

import (
	"time"
)

// Meta is the administrative view of a spooled message, as reported by the
// management API. It carries no payload.
type Meta struct {
	MsgID                 int64  `json:"msgId"`
	ReplicationGroupMsgID string `json:"replicationGroupMsgId,omitempty"`
	SpooledTime           int64  `json:"spooledTime,omitempty"`
	AttachmentSize        int64  `json:"attachmentSize,omitempty"`
	ContentSize           int64  `json:"contentSize,omitempty"`
	PublisherID           int64  `json:"publisherId,omitempty"`
	Priority              int    `json:"priority,omitempty"`
	RedeliveryCount       int    `json:"redeliveryCount,omitempty"`
	DMQEligible           bool   `json:"dmqEligible,omitempty"`
	ExpiryTime            int64  `json:"expiryTime,omitempty"`
}

// Spooled returns SpooledTime as a time.Time (zero if unknown).
func (m Meta) Spooled() time.Time {
	if m.SpooledTime == 0 {
		return time.Time{}
	}
	return time.Unix(m.SpooledTime, 0)
}

// Headers are the fields taken from a consumed bus message.
type Headers struct {
	Destination            string    `json:"destination,omitempty"`
	DestinationType        string    `json:"destinationType,omitempty"`
	CorrelationID          string    `json:"correlationId,omitempty"`
	ApplicationMessageID   string    `json:"applicationMessageId,omitempty"`
	ApplicationMessageType string    `json:"applicationMessageType,omitempty"`
	DeliveryMode           string    `json:"deliveryMode,omitempty"`
	SenderTimestamp        time.Time `json:"senderTimestamp,omitzero"`
	ReplyTo                string    `json:"replyTo,omitempty"`
	Priority               int       `json:"priority,omitempty"`
	TimeToLive             int64     `json:"timeToLive,omitempty"`
	Redelivered            bool      `json:"redelivered,omitempty"`
	DMQEligible            bool      `json:"dmqEligible,omitempty"`
}

// BusMessage is a message read from a messaging session. ReplicationGroupMsgID
// and LegacyMsgID are both optional; brokers differ in which they expose.
type BusMessage struct {
	ReplicationGroupMsgID string
	LegacyMsgID           string
	Headers               Headers
	UserProperties        map[string]any

	// Structured holds a broker-decoded container (map, list, stream) when
	// the message was published as one. Attachment holds the raw body.
	Structured any
	Attachment any
}

// Record is one unified message: management metadata and bus content merged
// under a single key.
type Record struct {
	Key            string         `json:"key"`
	Meta           *Meta          `json:"meta,omitempty"`
	Headers        *Headers       `json:"headers,omitempty"`
	UserProperties map[string]any `json:"userProperties,omitempty"`
	Payload        Payload        `json:"payload"`
	Decoded        map[string]any `json:"decoded,omitempty"`
}

// HasContent reports whether the record was matched with a bus message.
func (r Record) HasContent() bool { return r.Headers != nil }
