package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/varhub/varhub/internal/protocol"
	"github.com/varhub/varhub/internal/registry"
)

// Session is one connected consumer or optimizer. Its id doubles as the
// subscriber handle and the lease identity on the coordinator, so a dead
// connection drops out of every subscription set automatically.
type Session struct {
	id      string
	conn    *websocket.Conn
	log     zerolog.Logger
	batcher *Batcher
	writeMu sync.Mutex
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, log zerolog.Logger) *Session {
	s := &Session{
		id:   "sess-" + uuid.NewString(),
		conn: conn,
	}
	s.log = log.With().Str("session", s.id).Logger()
	s.batcher = NewBatcher(s.writeBatch)
	return s
}

// ID implements registry.Subscriber.
func (s *Session) ID() string { return s.id }

// Notify implements registry.Subscriber. It queues the notification on the
// session's outgoing batcher and returns immediately; per-variable order is
// preserved because the batcher drains in queue order.
func (s *Session) Notify(n registry.Notification) {
	wv, err := protocol.EncodeRecord(n.Record)
	if err != nil {
		s.log.Error().Err(err).Str("variable", n.Record.ID).Msg("encode notification")
		return
	}
	msg, err := protocol.NewMessage(protocol.MsgNotify, "", protocol.NotifyMessage{
		Variable: wv,
		Cause:    n.Cause,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("build notification")
		return
	}
	s.batcher.Queue(msg)
}

// Send writes one message to the connection.
func (s *Session) Send(msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) writeBatch(msgs []*protocol.Message) {
	for _, msg := range msgs {
		if err := s.Send(msg); err != nil {
			s.log.Debug().Err(err).Msg("notification write failed")
			return
		}
	}
}

// Close flushes pending notifications and closes the connection.
func (s *Session) Close() {
	s.batcher.Clear()
	s.conn.Close()
}
