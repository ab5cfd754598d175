package registry

import "sync"

// svc is the coordinator's serializing owner: a channel of thunks drained
// by a single goroutine. Every mutating operation runs through it, which
// makes mutations linearizable without callers holding any mutex.
type svc struct {
	mu      sync.RWMutex
	ops     chan func()
	stopped bool
}

func newSvc() *svc {
	return &svc{ops: make(chan func())}
}

// run drains the ops channel until stop closes it.
func (s *svc) run() {
	go func() {
		for fn := range s.ops {
			fn()
		}
	}()
}

// stop shuts the service down. The write lock waits out every in-flight
// enqueue before the channel closes, so a concurrent do never sends on a
// closed channel; enqueues arriving after stop are refused instead.
func (s *svc) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.ops)
}

// do queues work on the service goroutine. It reports false once the
// service has stopped.
func (s *svc) do(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}
	s.ops <- fn
	return true
}

// svcSync queues work on the service goroutine and waits for its result.
// A stopped service yields ErrClosed.
func svcSync[T any](s *svc, fn func() (T, error)) (T, error) {
	done := make(chan struct{})
	var value T
	var err error
	ok := s.do(func() {
		value, err = fn()
		close(done)
	})
	if !ok {
		var zero T
		return zero, ErrClosed
	}
	<-done
	return value, err
}
