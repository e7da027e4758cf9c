// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Rigo85/libretorio/internal/config"
	"github.com/Rigo85/libretorio/internal/logging"
	"github.com/Rigo85/libretorio/internal/metrics"
	"github.com/Rigo85/libretorio/internal/session"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// sendBuffer is the per-channel outbound queue depth.
	sendBuffer = 16
)

type outFrame struct {
	messageType int
	data        []byte
}

// Channel owns one authenticated websocket connection: its liveness
// flag, idle watchdog and per-frame session re-validation. Exactly one
// Channel owns one physical connection.
type Channel struct {
	id         string
	conn       *websocket.Conn
	sess       *session.Session
	tokens     session.TokenSource
	dispatcher *Dispatcher
	cfg        *config.WebSocketConfig
	clk        clock.Clock

	send    chan outFrame
	isAlive atomic.Bool

	mu           sync.Mutex
	lastActivity time.Time

	done      chan struct{}
	closeOnce sync.Once

	// frames tracks in-flight frame handlers.
	frames sync.WaitGroup
}

func newChannel(conn *websocket.Conn, sess *session.Session, tokens session.TokenSource,
	dispatcher *Dispatcher, cfg *config.WebSocketConfig, clk clock.Clock) *Channel {

	c := &Channel{
		id:           uuid.NewString(),
		conn:         conn,
		sess:         sess,
		tokens:       tokens,
		dispatcher:   dispatcher,
		cfg:          cfg,
		clk:          clk,
		send:         make(chan outFrame, sendBuffer),
		done:         make(chan struct{}),
		lastActivity: clk.Now(),
	}
	c.isAlive.Store(true)
	return c
}

// run drives the connection until it closes. Every exit path stops the
// watchdog, the writer and the underlying socket.
func (c *Channel) run(ctx context.Context) {
	metrics.ChannelsOpen.Inc()
	defer metrics.ChannelsOpen.Dec()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		c.writePump()
	}()
	go func() {
		defer pumps.Done()
		c.idleWatch(ctx)
	}()

	c.readLoop(ctx)

	c.close()
	c.frames.Wait()
	pumps.Wait()

	logging.Info().Str("channel_id", c.id).Str("user_id", c.sess.UserID).Msg("channel closed")
}

// readLoop consumes inbound frames. Each frame is handled in its own
// goroutine so a long job never blocks reads or timers.
func (c *Channel) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		// Liveness control frames are not activity.
		c.isAlive.Store(true)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug().Err(err).Str("channel_id", c.id).Msg("read loop ended")
			}
			return
		}

		c.touch()

		c.frames.Add(1)
		go func(raw []byte) {
			defer c.frames.Done()
			c.handleFrame(ctx, raw)
		}(raw)
	}
}

// handleFrame re-validates the session token, then dispatches.
func (c *Channel) handleFrame(ctx context.Context, raw []byte) {
	current, err := c.tokens.CurrentToken(ctx, c.sess.UserID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		c.expire(msgTokenSuperseded, "revoked")
		return
	case err != nil:
		// A store hiccup must not kill the channel.
		logging.Error().Err(err).Str("user_id", c.sess.UserID).Msg("session token check failed")
	case current != c.sess.Token:
		logging.Info().Str("user_id", c.sess.UserID).Msg("terminating channel, session superseded")
		c.expire(msgTokenSuperseded, "revoked")
		return
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		c.sendResponse(errorsResponse(msgInvalidEvent))
		return
	}

	if resp := c.dispatcher.Dispatch(ctx, c.sess.UserID, &msg); resp != nil {
		c.sendResponse(resp)
	}
}

// touch records frame activity with the monotonic clock.
func (c *Channel) touch() {
	c.mu.Lock()
	c.lastActivity = c.clk.Now()
	c.mu.Unlock()
}

func (c *Channel) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clk.Now().Sub(c.lastActivity)
}

// idleWatch closes the channel once no activity is seen for the
// configured ceiling.
func (c *Channel) idleWatch(ctx context.Context) {
	ticker := c.clk.Ticker(c.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.close()
			return
		case <-ticker.C:
			if c.idleFor() > c.cfg.InactivityCeiling {
				logging.Info().Str("user_id", c.sess.UserID).Msg("closing idle channel")
				c.expire(msgIdleExpired, "idle")
				return
			}
		}
	}
}

// probe runs one liveness check: a peer that never acknowledged the
// previous ping is terminated, otherwise a new ping goes out.
func (c *Channel) probe() {
	if !c.isAlive.Load() {
		logging.Info().Str("user_id", c.sess.UserID).Msg("terminating dead peer")
		metrics.ChannelsExpired.WithLabelValues("dead_peer").Inc()
		c.close()
		return
	}

	c.isAlive.Store(false)
	c.enqueue(outFrame{messageType: websocket.PingMessage})
}

// expire notifies the peer and then terminates the connection.
func (c *Channel) expire(message, reason string) {
	metrics.ChannelsExpired.WithLabelValues(reason).Inc()

	data, err := json.Marshal(sessionExpiredResponse(message))
	if err == nil {
		c.enqueue(outFrame{messageType: websocket.TextMessage, data: data})
	}
	c.close()
}

func (c *Channel) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Str("event", resp.Event).Msg("failed to encode response frame")
		return
	}
	c.enqueue(outFrame{messageType: websocket.TextMessage, data: data})
}

func (c *Channel) enqueue(frame outFrame) {
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

// writePump is the sole writer on the connection. On close it drains
// queued frames, so an expiry notification still reaches the peer
// before the socket goes down.
func (c *Channel) writePump() {
	defer c.conn.Close()

	for {
		select {
		case frame := <-c.send:
			c.writeFrame(frame)
		case <-c.done:
			for {
				select {
				case frame := <-c.send:
					c.writeFrame(frame)
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Channel) writeFrame(frame outFrame) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(frame.messageType, frame.data); err != nil {
		logging.Debug().Err(err).Str("channel_id", c.id).Msg("frame write failed")
	}
}

// close tears the channel down exactly once on any exit path.
func (c *Channel) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
