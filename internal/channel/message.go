// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package channel implements the session-bound real-time command
// channel: the websocket server, the per-connection channel lifecycle
// and the command dispatcher behind it.
package channel

import (
	"github.com/goccy/go-json"
)

// Inbound command events.
const (
	EventLs           = "ls"
	EventSearch       = "search"
	EventSearchText   = "search_text"
	EventUpdate       = "update"
	EventDecompress   = "decompress"
	EventConvertToPDF = "convert_to_pdf"
	EventGetMorePages = "get_more_pages"
	EventGetAudioBook = "get_audio_book"
	EventLogAction    = "log_action"
)

// Outbound response events.
const (
	EventList           = "list"
	EventSearchDetails  = "search_details"
	EventErrors         = "errors"
	EventSessionExpired = "session_expired"
)

// Session-expiry notification messages.
const (
	msgIdleExpired     = "Your session has expired due to inactivity."
	msgTokenSuperseded = "Your session has been invalidated by a login on another device."
)

// Message is one inbound command frame. Data stays opaque until the
// matching handler decodes it.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Response is one outbound frame.
type Response struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// errorsResponse shapes the structured error frame.
func errorsResponse(errs ...string) *Response {
	return &Response{
		Event: EventErrors,
		Data:  map[string][]string{"errors": errs},
	}
}

// sessionExpiredResponse shapes the notification sent right before a
// connection-level termination.
func sessionExpiredResponse(message string) *Response {
	return &Response{
		Event: EventSessionExpired,
		Data:  map[string]string{"message": message},
	}
}
