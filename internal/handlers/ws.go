// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/courier/internal/auth"
	"github.com/jason-s-yu/courier/internal/middleware"
	"github.com/jason-s-yu/courier/internal/notify"
	"github.com/sirupsen/logrus"
)

const (
	wsSubprotocol = "courier"
	pingInterval  = 30 * time.Second
	writeTimeout  = 5 * time.Second
)

// handleWS upgrades to the command socket. Commands arrive as Command JSON
// frames and are answered with "result" frames; notifications for the user
// are pushed on the same socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != wsSubprotocol {
		c.Close(BadSubprotocolError, "client must speak the courier subprotocol")
		return
	}

	id, err := identityFromRequest(r)
	if err != nil {
		c.Close(InvalidAuthTokenError, "invalid auth_token")
		return
	}

	client, unregister := s.hub.Register(id.UserID)
	defer unregister()

	middleware.LogWebSocketConnect(s.log, r.RemoteAddr, id.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		writePump(ctx, c, client, s.log)
		cancel()
	}()

	err = s.readPump(ctx, c, client, id)
	middleware.LogWebSocketDisconnect(s.log, r.RemoteAddr, id.UserID, err)
	c.Close(websocket.StatusNormalClosure, "")
}

// readPump executes inbound commands until the connection closes. A nil
// return means the peer closed normally.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, client *notify.Client, id auth.Identity) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var cmd Command
		var resp Response
		if err := json.Unmarshal(msg, &cmd); err != nil {
			resp = Response{Error: &ErrorBody{Code: "bad_command", Message: "invalid JSON format"}}
		} else {
			resp, _ = execute(ctx, s.pool, s.mgr, id, cmd)
		}

		select {
		case client.Out <- map[string]any{"type": "result", "response": resp}:
		case <-ctx.Done():
			return nil
		}
	}
}

// writePump drains the client's outbound queue onto the socket and keeps the
// connection alive with pings.
func writePump(ctx context.Context, c *websocket.Conn, client *notify.Client, logger logrus.FieldLogger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-client.Out:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing msg for user %d: %v", client.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for user %d: %v", client.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debugf("ping failed for user %d: %v", client.UserID, err)
				return
			}
		}
	}
}
