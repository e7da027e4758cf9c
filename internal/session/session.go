// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package session manages authenticated user sessions.
//
// Sessions follow single-session semantics: each user has at most one
// live token, and storing a new one invalidates the previous token
// everywhere it is still presented.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Sentinel errors for session resolution.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Session is an immutable snapshot of one authenticated session.
type Session struct {
	UserID    string    `json:"userId"`
	IsAdmin   bool      `json:"isAdmin"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the session's lifetime has passed.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// TokenSource answers "what is this user's current token". Long-lived
// consumers re-check it to detect logins on other devices.
type TokenSource interface {
	// CurrentToken returns the user's live token. ErrSessionNotFound
	// when the user has no session, ErrSessionExpired when the stored
	// session has lapsed.
	CurrentToken(ctx context.Context, userID string) (string, error)
}

// Validator resolves an HTTP request to its session.
type Validator interface {
	// Resolve authenticates the request from its session cookie.
	// ErrSessionNotFound covers absent cookies, unknown tokens and
	// tokens superseded by a login elsewhere.
	Resolve(ctx context.Context, r *http.Request) (*Session, error)
}
