// internal/handlers/client.go
package handlers

import (
	"encoding/json"
	"sync"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/sirupsen/logrus"
)

const outboundBuffer = 32

// Client is one websocket connection as the core sees it. Emit never blocks;
// frames that do not fit the outbound buffer are dropped and logged.
type Client struct {
	id     string
	token  string
	remote string
	logger *logrus.Logger

	out chan []byte

	mu       sync.Mutex
	onClose  []func()
	closed   bool
	done     chan struct{}
	closeErr error
}

func NewClient(logger *logrus.Logger, id, token, remote string) *Client {
	return &Client{
		id:     id,
		token:  token,
		remote: remote,
		logger: logger,
		out:    make(chan []byte, outboundBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) AuthToken() string { return c.token }

func (c *Client) Remote() string { return c.remote }

// Emit queues an event frame for the write pump.
func (c *Client) Emit(event string, payload any) {
	msg, err := models.NewMessage(event, payload)
	if err != nil {
		c.logger.WithError(err).WithField("event", event).Error("Failed to marshal outgoing payload")
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithError(err).WithField("event", event).Error("Failed to marshal outgoing message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- data:
	default:
		c.logger.WithFields(logrus.Fields{"socket_id": c.id, "event": event}).Warn("Outbound buffer full, dropping message")
	}
}

// OnClose registers fn to run when the client closes. If the client is
// already closed fn runs immediately.
func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Close marks the client closed and runs the close callbacks once.
func (c *Client) Close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	callbacks := c.onClose
	c.onClose = nil
	close(c.done)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Err is the error the client was closed with, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} { return c.done }

// Outbound yields marshalled frames in emit order.
func (c *Client) Outbound() <-chan []byte { return c.out }
