// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cinematch/cinematch/internal/protocol"
	"github.com/cinematch/cinematch/internal/session"
)

// WSHandler upgrades /api/ws connections and drives a session: one read
// pump feeding the session, one write pump draining it.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // same-host UI plus dev servers
		})
		if err != nil {
			s.logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		sess := s.newSession()
		s.logger.WithFields(logrus.Fields{"session": sess.ID, "remote": r.RemoteAddr}).Info("WebSocket connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go writePump(ctx, c, sess, s.logger)

		readPump(ctx, c, sess, s.logger)

		// A disconnect cancels only this session's future sends; room
		// operations it triggered have already completed under the room
		// lock. Close synthesizes the leave broadcast exactly once.
		sess.Close()
		s.logger.WithFields(logrus.Fields{"session": sess.ID, "remote": r.RemoteAddr}).Info("WebSocket disconnected")
	}
}

// readPump forwards inbound frames to the session until the connection
// drops or the context is cancelled.
func readPump(ctx context.Context, c *websocket.Conn, sess *session.Session, logger *logrus.Logger) {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.WithField("session", sess.ID).Debug("websocket closed normally")
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.WithFields(logrus.Fields{"session": sess.ID, "error": err}).Warn("websocket read error")
			}
			return
		}
		if typ != websocket.MessageText {
			logger.WithFields(logrus.Fields{"session": sess.ID, "type": typ}).Warn("ignoring non-text message")
			continue
		}
		sess.HandleMessage(ctx, msg)
	}
}

// writePump drains the session's event queue onto the wire and keeps the
// connection alive with pings. A failed write ends the pump; the read
// side notices the closure and tears the session down.
func writePump(ctx context.Context, c *websocket.Conn, sess *session.Session, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Events():
			if !ok {
				c.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			data, err := protocol.Encode(ev)
			if err != nil {
				logger.WithFields(logrus.Fields{"session": sess.ID, "event": ev.EventType(), "error": err}).Warn("failed to encode outgoing event")
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithFields(logrus.Fields{"session": sess.ID, "error": err}).Warn("websocket write failed")
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithFields(logrus.Fields{"session": sess.ID, "error": err}).Warn("ping failed, assuming disconnect")
				return
			}
		}
	}
}
