// Package varbridge is the consumer-side bridge to a varhub coordinator.
// It keeps a read-through cache of fetched variables, buffers usage and
// impact reports into batches, and preserves coordinator error kinds across
// the connection so callers can errors.As against the registry types.
package varbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/varhub/varhub/internal/protocol"
	"github.com/varhub/varhub/internal/registry"
)

// ErrClosed is returned for calls on a closed bridge.
var ErrClosed = errors.New("bridge closed")

// Config holds bridge tuning. Zero values take defaults.
type Config struct {
	// URL is the coordinator websocket endpoint, e.g. ws://127.0.0.1:7070/ws.
	URL string
	// RequestTimeout bounds every request/response round-trip.
	RequestTimeout time.Duration
	// UsageBatchSize is the auto-flush threshold for buffered usage records.
	UsageBatchSize int
	// ImpactBatchSize is the auto-flush threshold for buffered impact records.
	ImpactBatchSize int
	// HeartbeatInterval paces lease renewal against the coordinator.
	HeartbeatInterval time.Duration
	// Site is the consumption site stamped on the usage records Get buffers
	// automatically, e.g. a worker or script name.
	Site string
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.UsageBatchSize <= 0 {
		c.UsageBatchSize = 100
	}
	if c.ImpactBatchSize <= 0 {
		c.ImpactBatchSize = 100
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.Site == "" {
		c.Site = "bridge"
	}
	return c
}

// Bridge is one connection to the coordinator. It is safe for concurrent
// use by multiple goroutines.
type Bridge struct {
	cfg  Config
	log  zerolog.Logger
	conn *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan *protocol.Message
	observers map[string][]func(Variable, map[string]string) // variable id -> handlers

	cache *cache

	usage  []protocol.UsageEntry
	impact []protocol.ImpactEntry

	notifyCh  chan notifyEvent
	closed    chan struct{}
	closeOnce sync.Once
}

type notifyEvent struct {
	variable Variable
	cause    map[string]string
}

// Dial connects to the coordinator and starts the read and heartbeat loops.
func Dial(cfg Config, log zerolog.Logger) (*Bridge, error) {
	cfg = cfg.withDefaults()
	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	b := &Bridge{
		cfg:       cfg,
		log:       log.With().Str("component", "bridge").Logger(),
		conn:      conn,
		pending:   make(map[string]chan *protocol.Message),
		observers: make(map[string][]func(Variable, map[string]string)),
		cache:     newCache(),
		notifyCh:  make(chan notifyEvent, 1024),
		closed:    make(chan struct{}),
	}
	go b.readLoop()
	go b.notifyLoop()
	go b.heartbeatLoop()
	return b, nil
}

// Close flushes buffered reports on a best-effort basis and closes the
// connection. Pending calls fail with ErrClosed.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if flushErr := b.Flush(); flushErr != nil {
			b.log.Debug().Err(flushErr).Msg("final flush failed")
		}
		close(b.closed)
		err = b.conn.Close()
	})
	return err
}

func (b *Bridge) send(msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// call performs one request/response round-trip, bounded by RequestTimeout.
// Coordinator errors come back with their kind reconstructed, annotated with
// the failing operation.
func (b *Bridge) call(msgType protocol.MessageType, payload any) (json.RawMessage, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}

	rid := uuid.NewString()
	msg, err := protocol.NewMessage(msgType, rid, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", msgType, err)
	}

	ch := make(chan *protocol.Message, 1)
	b.mu.Lock()
	b.pending[rid] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, rid)
		b.mu.Unlock()
	}()

	if err := b.send(msg); err != nil {
		return nil, fmt.Errorf("%s: %w", msgType, err)
	}

	timer := time.NewTimer(b.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Type == protocol.MsgError {
			var em protocol.ErrorMessage
			if err := json.Unmarshal(resp.Data, &em); err != nil {
				return nil, fmt.Errorf("%s: malformed error response: %w", msgType, err)
			}
			return nil, fmt.Errorf("%s: %w", msgType, registry.FromCode(em.Code, em.Description, em.Details))
		}
		return resp.Data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", msgType, &registry.TimeoutError{Op: string(msgType)})
	case <-b.closed:
		return nil, ErrClosed
	}
}

// readLoop routes responses to their pending callers and dispatches
// notifications to observer handlers. Notifications never touch the cache;
// staleness ends only with an explicit invalidation by the caller.
func (b *Bridge) readLoop() {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.closed:
			default:
				b.log.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			b.log.Warn().Err(err).Msg("malformed frame")
			continue
		}
		switch msg.Type {
		case protocol.MsgNotify:
			b.dispatchNotify(msg.Data)
		default:
			b.mu.Lock()
			ch := b.pending[msg.RID]
			b.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
		}
	}
}

// dispatchNotify hands a notification to the notify goroutine. Handlers run
// off the read goroutine so they may make bridge calls of their own; an
// overflowing queue drops the notification rather than stalling reads, since
// the coordinator stays authoritative.
func (b *Bridge) dispatchNotify(data json.RawMessage) {
	var nm protocol.NotifyMessage
	if err := json.Unmarshal(data, &nm); err != nil {
		b.log.Warn().Err(err).Msg("malformed notification")
		return
	}
	v, err := fromWire(nm.Variable)
	if err != nil {
		b.log.Warn().Err(err).Str("variable", nm.Variable.ID).Msg("undecodable notification")
		return
	}
	select {
	case b.notifyCh <- notifyEvent{variable: v, cause: nm.Cause}:
	default:
		b.log.Warn().Str("variable", v.ID).Msg("notification queue full, dropping")
	}
}

// notifyLoop delivers notifications to handlers in arrival order.
func (b *Bridge) notifyLoop() {
	for {
		select {
		case <-b.closed:
			return
		case ev := <-b.notifyCh:
			b.mu.Lock()
			handlers := append([]func(Variable, map[string]string){}, b.observers[ev.variable.ID]...)
			b.mu.Unlock()
			for _, fn := range handlers {
				fn(ev.variable, ev.cause)
			}
		}
	}
}

func (b *Bridge) heartbeatLoop() {
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.closed:
			return
		case <-ticker.C:
			msg, err := protocol.NewMessage(protocol.MsgHeartbeat, "", nil)
			if err != nil {
				continue
			}
			if err := b.send(msg); err != nil {
				b.log.Debug().Err(err).Msg("heartbeat failed")
			}
		}
	}
}
