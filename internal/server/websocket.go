package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/varhub/varhub/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bridge connects from foreign runtimes on the same host or a
	// trusted network; origin policy belongs to a fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades a connection and runs its read loop until disconnect.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	sess := NewSession(conn, s.log)
	s.addSession(sess)
	sess.log.Info().Str("remote", r.RemoteAddr).Msg("session connected")

	defer func() {
		s.removeSession(sess)
		s.coord.DropIdentity(sess.ID())
		sess.Close()
		sess.log.Info().Msg("session disconnected")
	}()

	s.readPump(sess)
}

// readPump processes inbound frames. Any traffic counts as liveness, so the
// session's lease is renewed per message on top of explicit heartbeats.
func (s *Server) readPump(sess *Session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Debug().Err(err).Msg("read error")
			}
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			sess.log.Warn().Err(err).Msg("malformed frame")
			continue
		}
		s.coord.Heartbeat(sess.ID())
		s.handleMessage(sess, msg)
	}
}
