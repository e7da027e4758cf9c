// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerWritesToZerologOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	slogger := NewSlogLogger()
	require.NotNil(t, slogger)

	slogger.Info("supervisor started", "supervisor", "libretorio")

	out := buf.String()
	assert.Contains(t, out, `"message":"supervisor started"`)
	assert.Contains(t, out, `"supervisor":"libretorio"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestSlogLoggerCarriesAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	slogger := NewSlogLogger().With("component", "tree")
	slogger.Warn("service failed", slog.Group("service", slog.String("name", "channel-server")))

	out := buf.String()
	assert.Contains(t, out, `"component":"tree"`)
	assert.Contains(t, out, `"service.name":"channel-server"`)
	assert.Contains(t, out, `"level":"warn"`)
}

func TestToZerologLevel(t *testing.T) {
	tests := []struct {
		slogLevel slog.Level
		want      zerolog.Level
	}{
		{slog.LevelDebug, zerolog.DebugLevel},
		{slog.LevelInfo, zerolog.InfoLevel},
		{slog.LevelWarn, zerolog.WarnLevel},
		{slog.LevelError, zerolog.ErrorLevel},
		{slog.LevelDebug - 4, zerolog.TraceLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toZerologLevel(tt.slogLevel))
	}
}
