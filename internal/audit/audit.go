// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package audit records user actions on the command channel for later
// review. Recording is fire-and-forget: the command path never waits on
// or fails because of the audit trail.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Event is one recorded user action.
type Event struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Action     string          `json:"action"`
	EntityName string          `json:"entityName,omitempty"`
	EntityID   string          `json:"entityId,omitempty"`
	Changes    json.RawMessage `json:"changes,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
}
