package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/modelforge/internal/auth"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
)

// Authenticator verifies session tokens presented on the channel
type Authenticator interface {
	Verify(ctx context.Context, token string) (*auth.Session, error)
}

// ComputeRegistrar flags a user as a compute provider
type ComputeRegistrar interface {
	Register(ctx context.Context, userID int64) (*models.User, error)
}

// ClientConfig holds per-connection limits
type ClientConfig struct {
	Buffer         int
	PingPeriod     time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func (c ClientConfig) pongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

// Client is one websocket connection. It starts anonymous and may be bound
// to a user through a verified session token.
type Client struct {
	ID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	cfg    ClientConfig
	userID atomic.Int64

	closeOnce sync.Once
	logger    *logging.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, cfg ClientConfig, logger *logging.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan frame, cfg.Buffer),
		cfg:    cfg,
		logger: logger.WithField("client_id", id),
	}
}

// UserID returns the bound user, 0 while anonymous
func (c *Client) UserID() int64 {
	return c.userID.Load()
}

func (c *Client) bind(userID int64) {
	c.userID.Store(userID)
}

// enqueue never blocks; it reports false when the buffer is full
func (c *Client) enqueue(f frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Close tears the connection down; the read pump then unregisters the client
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.payload); err != nil {
				c.logger.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles inbound frames until the connection fails
func (c *Client) readPump(ctx context.Context, sessions Authenticator, compute ComputeRegistrar) {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("connection closed unexpectedly")
			}
			return
		}
		c.handle(ctx, raw, sessions, compute)
	}
}

// handle processes one inbound frame. Malformed or unauthorized frames are
// logged and dropped; the channel has no error reply.
func (c *Client) handle(ctx context.Context, raw []byte, sessions Authenticator, compute ComputeRegistrar) {
	in, err := decodeInbound(raw)
	if err != nil {
		c.logger.WithError(err).Warn("dropping malformed message")
		return
	}

	switch in.Type {
	case TypeAuthenticate:
		c.authenticate(ctx, in, sessions)
	case TypeRegisterCompute:
		c.registerCompute(ctx, in, compute)
	default:
		c.logger.WithField("type", in.Type).Warn("dropping unknown message type")
	}
}

func (c *Client) authenticate(ctx context.Context, in inbound, sessions Authenticator) {
	if in.Token == "" {
		// a bare user id only confirms an identity already bound by token
		if in.UserID != nil && *in.UserID != c.UserID() {
			c.logger.WithField("claimed_user_id", *in.UserID).Warn("ignoring unverified identity claim")
		}
		return
	}

	sess, err := sessions.Verify(ctx, in.Token)
	if err != nil {
		c.logger.WithError(err).Warn("rejecting session token")
		return
	}
	if in.UserID != nil && *in.UserID != sess.UserID {
		c.logger.WithFields(logging.Fields{
			"claimed_user_id": *in.UserID,
			"session_user_id": sess.UserID,
		}).Warn("identity claim does not match session")
		return
	}

	c.bind(sess.UserID)
	c.logger.WithField("user_id", sess.UserID).Info("client authenticated")
}

func (c *Client) registerCompute(ctx context.Context, in inbound, compute ComputeRegistrar) {
	userID := c.UserID()
	if userID == 0 {
		c.logger.Warn("ignoring compute registration from anonymous client")
		return
	}
	if in.UserID != nil && *in.UserID != userID {
		c.logger.WithField("claimed_user_id", *in.UserID).Warn("ignoring compute registration for another user")
		return
	}

	if _, err := compute.Register(ctx, userID); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).WithField("user_id", userID).Error("compute registration failed")
		}
	}
}
