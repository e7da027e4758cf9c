// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package audit

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Rigo85/libretorio/internal/logging"
)

// Logger buffers audit events and writes them to the store off the
// command path. It runs under the supervision tree.
type Logger struct {
	store   Store
	enabled bool
	events  chan *Event
}

// NewLogger creates the audit logger. A disabled logger accepts and
// discards all records.
func NewLogger(store Store, enabled bool, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Logger{
		store:   store,
		enabled: enabled,
		events:  make(chan *Event, bufferSize),
	}
}

// Record enqueues one user action. It never blocks: when the buffer is
// full the event is dropped with a warning. Ping frames are never
// recorded. A "log_action" action unwraps its embedded client-side
// action before storing.
func (l *Logger) Record(userID, action string, changes json.RawMessage) {
	if !l.enabled || strings.EqualFold(action, "ping") {
		return
	}

	event := &Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Changes:   changes,
		Timestamp: time.Now(),
	}

	if action == "log_action" {
		embedded, ok := unwrapLogAction(changes)
		if !ok {
			logging.Error().Str("user_id", userID).RawJSON("payload", normalizeJSON(changes)).
				Msg("log_action payload carries no action")
			return
		}
		event.Action = embedded.Action
		event.EntityName = embedded.EntityName
		event.EntityID = embedded.EntityID
		event.Changes = embedded.Changes
	}

	select {
	case l.events <- event:
	default:
		logging.Warn().Str("action", event.Action).Msg("audit buffer full, event dropped")
	}
}

type logActionPayload struct {
	Action     string          `json:"action"`
	EntityName string          `json:"entityName"`
	EntityID   string          `json:"entityId"`
	Changes    json.RawMessage `json:"changes"`
}

// unwrapLogAction pulls the client-described action out of a log_action
// frame's data object: {action, entityName, entityId, changes}.
func unwrapLogAction(changes json.RawMessage) (*logActionPayload, bool) {
	var payload logActionPayload
	if err := json.Unmarshal(changes, &payload); err != nil || payload.Action == "" {
		return nil, false
	}
	return &payload, true
}

func normalizeJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage(`null`)
	}
	return raw
}

// Serve writes buffered events until the context is canceled, then
// drains whatever is still queued.
func (l *Logger) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-l.events:
					l.write(event)
				default:
					return ctx.Err()
				}
			}
		case event := <-l.events:
			l.write(event)
		}
	}
}

func (l *Logger) write(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		logging.Error().Err(err).Str("action", event.Action).Msg("failed to persist audit event")
	}
}

func (l *Logger) String() string {
	return "audit-logger"
}
