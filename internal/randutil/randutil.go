package randutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// RandomSuffix returns a short random hex string suitable for unique naming.
func RandomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fall back to timestamp-based suffix if crypto/rand fails
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}

// Sequence generates names of the form <prefix>/<session>/<n>. The session
// part is random per Sequence and n increases monotonically, so names are
// unique within a process and traceable back to it on the broker.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix + "/" + RandomSuffix()}
}

// Next returns the next name. It is safe for concurrent use.
func (s *Sequence) Next() string {
	return s.prefix + "/" + strconv.FormatUint(s.n.Add(1), 10)
}

// Session returns the per-Sequence part of the generated names.
func (s *Sequence) Session() string {
	return s.prefix
}
