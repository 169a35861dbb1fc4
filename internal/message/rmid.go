package message

import (
	"fmt"
	"strconv"
	"strings"
)

const rmidPrefix = "rmid1:"

// ReplicationID is a parsed replication-group message id of the form
// "rmid1:<origin>-<seq high>-<seq low>", e.g.
// "rmid1:3477f-a5ce520f9ac-00000000-0000002a". Origin names the replication
// group and Seq is the message's position in its replay log.
type ReplicationID struct {
	Origin string
	Seq    uint64
}

// ParseReplicationID parses s. The two sequence groups are 8 hex digits each.
func ParseReplicationID(s string) (ReplicationID, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), rmidPrefix)
	if !ok {
		return ReplicationID{}, fmt.Errorf("invalid replication group message id %q: missing %q prefix", s, rmidPrefix)
	}
	parts := strings.Split(rest, "-")
	if len(parts) < 2 {
		return ReplicationID{}, fmt.Errorf("invalid replication group message id %q", s)
	}
	hi, lo := parts[len(parts)-2], parts[len(parts)-1]
	if len(hi) != 8 || len(lo) != 8 {
		return ReplicationID{}, fmt.Errorf("invalid replication group message id %q: bad sequence", s)
	}
	seq, err := strconv.ParseUint(hi+lo, 16, 64)
	if err != nil {
		return ReplicationID{}, fmt.Errorf("invalid replication group message id %q: %w", s, err)
	}
	return ReplicationID{Origin: strings.Join(parts[:len(parts)-2], "-"), Seq: seq}, nil
}

func (id ReplicationID) String() string {
	seq := fmt.Sprintf("%08x-%08x", id.Seq>>32, id.Seq&0xffffffff)
	if id.Origin == "" {
		return rmidPrefix + seq
	}
	return rmidPrefix + id.Origin + "-" + seq
}

// replicationKey is the merge key of a replication-group id. Well-formed ids
// compare by sequence only, so a bus message that could not learn its origin
// still matches; anything else compares as is.
func replicationKey(s string) string {
	if s == "" {
		return ""
	}
	if id, err := ParseReplicationID(s); err == nil {
		return rmidPrefix + strconv.FormatUint(id.Seq, 10)
	}
	return s
}
