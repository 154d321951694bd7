// ABOUTME: Fire-and-forget persistence writer with a bounded op queue
// ABOUTME: Overflow drops the oldest pending write and logs it
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const writerQueueCap = 256

// Writer serializes best-effort writes onto one goroutine. Failures are
// logged and never reach the caller; the user-visible operation has
// already completed against in-memory state.
type Writer struct {
	ops  chan func(ctx context.Context) error
	log  zerolog.Logger
	wg   sync.WaitGroup
	mu   sync.Mutex
	done bool
}

// NewWriter starts the writer goroutine.
func NewWriter(logger zerolog.Logger) *Writer {
	w := &Writer{
		ops: make(chan func(ctx context.Context) error, writerQueueCap),
		log: logger.With().Str("component", "store-writer").Logger(),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := op(ctx); err != nil {
			w.log.Warn().Err(err).Msg("persistence write failed")
		}
		cancel()
	}
}

// Enqueue queues op. When the queue is full the oldest pending write is
// dropped so the newest state wins.
func (w *Writer) Enqueue(op func(ctx context.Context) error) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	for {
		select {
		case w.ops <- op:
			return
		default:
		}
		select {
		case <-w.ops:
			w.log.Warn().Msg("persistence queue full, dropped oldest write")
		default:
		}
	}
}

// Close drains pending writes and stops the goroutine.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.done = true
	close(w.ops)
	w.mu.Unlock()
	w.wg.Wait()
}
