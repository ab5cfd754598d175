package registry

import "github.com/varhub/varhub/internal/variable"

// Notification is delivered to each subscriber after a committed update.
type Notification struct {
	Record *variable.Record
	Cause  map[string]string
}

// Subscriber receives update notifications for observed variables.
// Notify is invoked on the coordinator's serializing goroutine in commit
// order, so implementations must queue and return immediately; delivery to
// the subscriber's own processing is asynchronous.
type Subscriber interface {
	ID() string
	Notify(n Notification)
}

// FuncSubscriber adapts a function to the Subscriber interface.
type FuncSubscriber struct {
	SubID string
	Fn    func(Notification)
}

// NewFuncSubscriber wraps fn as a subscriber with the given identity.
func NewFuncSubscriber(id string, fn func(Notification)) *FuncSubscriber {
	return &FuncSubscriber{SubID: id, Fn: fn}
}

func (s *FuncSubscriber) ID() string            { return s.SubID }
func (s *FuncSubscriber) Notify(n Notification) { s.Fn(n) }
