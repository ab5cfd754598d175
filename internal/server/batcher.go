package server

import (
	"sync"
	"time"

	"github.com/varhub/varhub/internal/protocol"
)

// defaultDebounce coalesces bursts of notifications into one write window.
const defaultDebounce = 10 * time.Millisecond

// Batcher batches outgoing messages for a single session with debouncing.
// Queue order is preserved, which keeps per-variable notification ordering
// intact. Each session has its own batcher instance.
type Batcher struct {
	mu       sync.Mutex
	pending  []*protocol.Message
	timer    *time.Timer
	debounce time.Duration
	send     func(msgs []*protocol.Message)
}

// NewBatcher creates a batcher that delivers through send.
func NewBatcher(send func(msgs []*protocol.Message)) *Batcher {
	return &Batcher{
		debounce: defaultDebounce,
		send:     send,
	}
}

// Queue adds a message and arms the debounce timer if idle.
func (b *Batcher) Queue(msg *protocol.Message) {
	if msg == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, msg)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, b.flush)
	}
}

// FlushNow immediately sends all pending messages.
func (b *Batcher) FlushNow() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	b.flush()
}

func (b *Batcher) flush() {
	b.mu.Lock()
	b.timer = nil
	msgs := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	b.send(msgs)
}

// Clear drops all pending messages and stops the timer. Called when the
// session disconnects.
func (b *Batcher) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = nil
	b.pending = nil
}

// PendingCount returns the number of queued messages (for testing).
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
