package randutil

import (
	"strings"
	"sync"
	"testing"
)

func TestRandomSuffix(t *testing.T) {
	s := RandomSuffix()
	if len(s) != 8 {
		t.Errorf("RandomSuffix() = %q, want 8 hex chars", s)
	}
}

func TestSequence_Next(t *testing.T) {
	seq := NewSequence("msgscope/tmp")

	first := seq.Next()
	second := seq.Next()
	if !strings.HasPrefix(first, seq.Session()+"/") {
		t.Errorf("Next() = %q, want prefix %q", first, seq.Session())
	}
	if !strings.HasSuffix(first, "/1") || !strings.HasSuffix(second, "/2") {
		t.Errorf("Next() = %q, %q, want counters 1 and 2", first, second)
	}
	if other := NewSequence("msgscope/tmp"); other.Session() == seq.Session() {
		t.Errorf("two sequences share session %q", seq.Session())
	}
}

func TestSequence_Concurrent(t *testing.T) {
	seq := NewSequence("q")
	const n = 100

	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		wg   sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := seq.Next()
			mu.Lock()
			seen[name] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("got %d unique names, want %d", len(seen), n)
	}
}
