// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/Rigo85/libretorio/internal/config"
	"github.com/Rigo85/libretorio/internal/logging"
	"github.com/Rigo85/libretorio/internal/metrics"
	"github.com/Rigo85/libretorio/internal/session"
)

// Server accepts websocket upgrades, authenticates them against the
// session store and supervises the population of open channels. It runs
// as a service under the supervision tree.
type Server struct {
	cfg        *config.Config
	validator  session.Validator
	tokens     session.TokenSource
	dispatcher *Dispatcher
	clk        clock.Clock

	upgrader websocket.Upgrader
	router   chi.Router
	httpSrv  *http.Server

	mu       sync.Mutex
	channels map[string]*Channel
	draining bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer wires the channel server. The router also hosts the metrics
// endpoint and the static cache/public assets.
func NewServer(cfg *config.Config, validator session.Validator, tokens session.TokenSource, dispatcher *Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		validator:  validator,
		tokens:     tokens,
		dispatcher: dispatcher,
		clk:        clock.New(),
		channels:   make(map[string]*Channel),
	}

	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.WebSocket.UpgradeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      s.checkOrigin,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	r.Get("/ws", s.handleUpgrade)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/cache/*", http.StripPrefix("/cache/",
		http.FileServer(http.Dir(cfg.Paths.Cache))))
	r.Handle("/covers/*", http.StripPrefix("/covers/",
		http.FileServer(http.Dir(cfg.Paths.Covers))))
	r.Handle("/temp_covers/*", http.StripPrefix("/temp_covers/",
		http.FileServer(http.Dir(cfg.Paths.TempCovers))))
	r.Handle("/*", http.FileServer(http.Dir(cfg.Paths.Public)))
	s.router = r

	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	for _, origin := range s.cfg.Server.CORSOrigins {
		if origin == "*" || origin == r.Header.Get("Origin") {
			return true
		}
	}
	// Same-origin requests carry no Origin header.
	return r.Header.Get("Origin") == ""
}

// Handler exposes the HTTP surface, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleUpgrade authenticates the request and promotes it to a channel.
// Session resolution runs under the upgrade deadline; an unauthorized
// request is rejected before a channel is ever allocated.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WebSocket.UpgradeTimeout)
	defer cancel()

	sess, err := s.validator.Resolve(ctx, r)
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		logging.Warn().Str("remote", r.RemoteAddr).Msg("unauthorized upgrade attempt")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	case err != nil:
		logging.Error().Err(err).Msg("session resolution failed during upgrade")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if sess.UserID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response and destroyed
		// the socket.
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	ch := newChannel(conn, sess, s.tokens, s.dispatcher, &s.cfg.WebSocket, s.clk)

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		ch.close()
		_ = conn.Close()
		return
	}
	s.channels[ch.id] = ch
	s.mu.Unlock()

	logging.Info().Str("user_id", sess.UserID).Bool("admin", sess.IsAdmin).
		Str("channel_id", ch.id).Msg("user connected")

	go func() {
		ch.run(context.Background())
		s.remove(ch.id)
	}()
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.channels, id)
	s.mu.Unlock()
}

// snapshot returns the open channels without holding the lock during
// iteration.
func (s *Server) snapshot() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// probeAll runs one liveness tick over every open channel.
func (s *Server) probeAll() {
	for _, ch := range s.snapshot() {
		ch.probe()
	}
}

// channelCount reports the registry size.
func (s *Server) channelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels)
}

// Serve runs the HTTP listener and the liveness heartbeat until the
// context is canceled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.WebSocket.UpgradeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	logging.Info().Str("addr", addr).Str("environment", s.cfg.Server.Environment).
		Msg("channel server listening")

	ticker := s.clk.Ticker(s.cfg.WebSocket.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			s.probeAll()
		}
	}
}

// Shutdown stops admitting upgrades, terminates every open channel and
// closes the listener, forcing the close past the shutdown deadline.
// Idempotent: concurrent calls resolve exactly once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		logging.Info().Msg("closing channel server")

		s.mu.Lock()
		s.draining = true
		s.mu.Unlock()

		for _, ch := range s.snapshot() {
			ch.close()
		}

		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WebSocket.ShutdownTimeout)
			defer cancel()
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				logging.Error().Err(err).Msg("graceful shutdown exceeded deadline, forcing close")
				s.shutdownErr = s.httpSrv.Close()
			}
		}
	})
	return s.shutdownErr
}

func (s *Server) String() string {
	return "channel-server"
}
