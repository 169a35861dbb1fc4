package message

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decoder turns a binary attachment into fields, e.g. a protobuf decoder.
// destination is a hint for picking the message type.
type Decoder interface {
	DecodeWithHint(data []byte, destination string) (map[string]any, error)
}

// Merger joins management metadata with consumed bus messages.
type Merger struct {
	// Decoder, if set, is tried on attachments that are not valid UTF-8.
	Decoder Decoder
}

// Merge joins meta and msgs with a zero Merger.
func Merge(meta []Meta, msgs []BusMessage) []Record {
	return Merger{}.Merge(meta, msgs)
}

// metaIndex resolves a bus message to a metadata entry. Three lookups are
// tried in order: replication-group id, legacy id of entries that also have
// a replication-group id, and finally the normalized legacy id of any entry.
type metaIndex struct {
	byReplication map[string]int
	legacyToRepl  map[string]string
	byLegacy      map[string][]int
	matched       []bool
}

func newMetaIndex(meta []Meta) *metaIndex {
	idx := &metaIndex{
		byReplication: make(map[string]int, len(meta)),
		legacyToRepl:  make(map[string]string, len(meta)),
		byLegacy:      make(map[string][]int, len(meta)),
		matched:       make([]bool, len(meta)),
	}
	for i, m := range meta {
		legacy := legacyKey(m.MsgID)
		if repl := replicationKey(m.ReplicationGroupMsgID); repl != "" {
			if _, dup := idx.byReplication[repl]; !dup {
				idx.byReplication[repl] = i
			}
			if legacy != "" {
				idx.legacyToRepl[legacy] = repl
			}
		}
		if legacy != "" {
			idx.byLegacy[legacy] = append(idx.byLegacy[legacy], i)
		}
	}
	return idx
}

// lookup returns the index of an unmatched metadata entry for msg, or -1.
func (idx *metaIndex) lookup(msg BusMessage) int {
	if repl := replicationKey(msg.ReplicationGroupMsgID); repl != "" {
		if i, ok := idx.byReplication[repl]; ok && !idx.matched[i] {
			return i
		}
	}

	legacy := normalizeLegacyID(msg.LegacyMsgID)
	if legacy == "" {
		return -1
	}
	if repl, ok := idx.legacyToRepl[legacy]; ok {
		if i := idx.byReplication[repl]; !idx.matched[i] {
			return i
		}
	}
	for _, i := range idx.byLegacy[legacy] {
		if !idx.matched[i] {
			return i
		}
	}
	return -1
}

// Merge returns one record per metadata entry, in metadata order, followed
// by one record per bus message that matched no entry. Nothing is dropped.
func (mg Merger) Merge(meta []Meta, msgs []BusMessage) []Record {
	return mg.merge(meta, msgs, false)
}

// MergeInMessageOrder is Merge ordered by bus message arrival instead.
// Metadata entries that no message matched follow the messages.
func (mg Merger) MergeInMessageOrder(meta []Meta, msgs []BusMessage) []Record {
	return mg.merge(meta, msgs, true)
}

func (mg Merger) merge(meta []Meta, msgs []BusMessage, busOrder bool) []Record {
	idx := newMetaIndex(meta)
	matchOf := make([]int, len(msgs))
	msgOf := make([]int, len(meta))
	for i := range msgOf {
		msgOf[i] = -1
	}
	for j, msg := range msgs {
		i := idx.lookup(msg)
		matchOf[j] = i
		if i >= 0 {
			idx.matched[i] = true
			msgOf[i] = j
		}
	}

	keys := newKeySet(len(meta) + len(msgs))
	metaRecord := func(i int) Record {
		m := meta[i]
		rec := Record{Meta: &m}
		preferred := m.ReplicationGroupMsgID
		if preferred == "" && m.MsgID != 0 {
			preferred = "msg-" + legacyKey(m.MsgID)
		}
		if j := msgOf[i]; j >= 0 {
			mg.fill(&rec, msgs[j], m.AttachmentSize)
			if preferred == "" {
				preferred = msgs[j].ReplicationGroupMsgID
			}
		}
		rec.Key = keys.claim(preferred)
		return rec
	}
	msgRecord := func(j int) Record {
		var rec Record
		mg.fill(&rec, msgs[j], 0)
		rec.Key = keys.claim(msgs[j].ReplicationGroupMsgID)
		return rec
	}

	records := make([]Record, 0, len(meta)+len(msgs))
	if busOrder {
		for j, i := range matchOf {
			if i >= 0 {
				records = append(records, metaRecord(i))
			} else {
				records = append(records, msgRecord(j))
			}
		}
		for i, j := range msgOf {
			if j < 0 {
				records = append(records, metaRecord(i))
			}
		}
		return records
	}

	for i := range meta {
		records = append(records, metaRecord(i))
	}
	for j, i := range matchOf {
		if i < 0 {
			records = append(records, msgRecord(j))
		}
	}
	return records
}

// keySet hands out unique record keys, falling back to unmatched-N.
type keySet struct {
	used      map[string]struct{}
	synthetic int
}

func newKeySet(size int) *keySet {
	return &keySet{used: make(map[string]struct{}, size)}
}

func (ks *keySet) claim(preferred string) string {
	if preferred != "" {
		if _, taken := ks.used[preferred]; !taken {
			ks.used[preferred] = struct{}{}
			return preferred
		}
	}
	for {
		ks.synthetic++
		k := fmt.Sprintf("unmatched-%d", ks.synthetic)
		if _, taken := ks.used[k]; !taken {
			ks.used[k] = struct{}{}
			return k
		}
	}
}

func (mg Merger) fill(rec *Record, msg BusMessage, expectedSize int64) {
	h := msg.Headers
	rec.Headers = &h
	if len(msg.UserProperties) > 0 {
		rec.UserProperties = maps.Clone(msg.UserProperties)
	}
	rec.Payload = ExtractPayload(msg, expectedSize)

	if mg.Decoder != nil && len(rec.Payload.raw) > 0 && !utf8.Valid(rec.Payload.raw) {
		if decoded, err := mg.Decoder.DecodeWithHint(rec.Payload.raw, h.Destination); err == nil {
			rec.Decoded = decoded
		}
	}
}

func legacyKey(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// normalizeLegacyID brings a bus-side legacy id into the canonical decimal
// form used by the management API ("00042", " 42 " and "42" are equal).
func normalizeLegacyID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return legacyKey(n)
	}
	return s
}
