package db

import (
	"context"
	"sync"

	"github.com/epalmerini/msgscope/internal/message"
	"go.uber.org/zap"
)

const defaultBufferSize = 1000

// AsyncWriter archives records in the background so browsing never waits on
// the database. Records are dropped when the buffer is full.
type AsyncWriter struct {
	store     Store
	sessionID int64
	log       *zap.Logger

	mu      sync.RWMutex
	closed  bool
	ch      chan *MessageRecord
	wg      sync.WaitGroup
	dropped int
}

// NewAsyncWriter creates a new async writer with the given store and session
func NewAsyncWriter(store Store, sessionID int64, log *zap.Logger) *AsyncWriter {
	if log == nil {
		log = zap.NewNop()
	}
	w := &AsyncWriter{
		store:     store,
		sessionID: sessionID,
		log:       log.With(zap.Int64("archiveSession", sessionID)),
		ch:        make(chan *MessageRecord, defaultBufferSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Save queues a message for persistence. It never blocks and returns false
// when the message was dropped.
func (w *AsyncWriter) Save(msg *MessageRecord) bool {
	msg.SessionID = w.sessionID

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.ch <- msg:
		return true
	default:
		return false
	}
}

// SavePage queues every record of a fetched page and returns how many were
// accepted.
func (w *AsyncWriter) SavePage(page int, records []message.Record) int {
	saved := 0
	for _, rec := range records {
		if w.Save(&MessageRecord{Page: page, Record: rec}) {
			saved++
		}
	}
	if dropped := len(records) - saved; dropped > 0 {
		w.mu.Lock()
		w.dropped += dropped
		w.mu.Unlock()
		w.log.Warn("archive buffer full, records dropped", zap.Int("page", page), zap.Int("dropped", dropped))
	}
	return saved
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for msg := range w.ch {
		if _, err := w.store.InsertMessage(context.Background(), msg); err != nil {
			w.log.Debug("archive insert failed", zap.String("key", msg.Record.Key), zap.Error(err))
		}
	}
}

// Close stops accepting records and waits for the buffer to drain.
func (w *AsyncWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	dropped := w.dropped
	w.mu.Unlock()

	w.wg.Wait()
	if dropped > 0 {
		w.log.Info("archive closed with dropped records", zap.Int("dropped", dropped))
	}
}
