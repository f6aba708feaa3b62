// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol clients must request.
const Subprotocol = "arena"

const (
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
	maxMessageBytes  = 64 << 10
	maxMalformedRuns = 5
)

// WSHandler upgrades the request and runs the connection until it closes.
func WSHandler(logger *logrus.Logger, srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the arena subprotocol")
			return
		}
		c.SetReadLimit(maxMessageBytes)

		client := NewClient(logger, uuid.NewString(), tokenFromRequest(r), r.RemoteAddr)
		middleware.LogWebSocketConnect(logger, client.ID(), client.Remote())

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		srv.Connect(client)
		go writePump(ctx, c, client, logger)

		err = readPump(ctx, c, srv, client, logger)
		client.Close(err)
		middleware.LogWebSocketDisconnect(logger, client.ID(), client.Remote(), err)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// readPump decodes envelopes and hands them to the server until the
// connection fails or the client is closed elsewhere.
func readPump(ctx context.Context, c *websocket.Conn, srv *Server, client *Client, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	malformed := 0
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			logger.WithField("socket_id", client.ID()).Warn("Ignoring non-text frame")
			continue
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			malformed++
			client.Emit(models.EventError, errorPayload{Message: "invalid message envelope"})
			if malformed >= maxMalformedRuns {
				c.Close(MalformedFrameError, "too many malformed messages")
				return errors.New("too many malformed messages")
			}
			continue
		}
		malformed = 0
		srv.Dispatch(client, msg)
	}
}

// writePump drains the client's outbound frames and keeps the connection alive.
func writePump(ctx context.Context, c *websocket.Conn, client *Client, logger *logrus.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case data := <-client.Outbound():
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.WithError(err).WithField("socket_id", client.ID()).Warn("Failed to write to websocket")
				client.Close(err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.WithError(err).WithField("socket_id", client.ID()).Debug("Ping failed")
				client.Close(err)
				return
			}
		}
	}
}
