// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package config provides layered configuration loading for Libretorio.
//
// Configuration is resolved from three layers, later layers overriding
// earlier ones: built-in defaults, an optional YAML config file, and
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the server.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Paths       PathsConfig       `koanf:"paths"`
	WebSocket   WebSocketConfig   `koanf:"websocket"`
	Cache       CacheConfig       `koanf:"cache"`
	Database    DatabaseConfig    `koanf:"database"`
	Sessions    SessionsConfig    `koanf:"sessions"`
	OpenLibrary OpenLibraryConfig `koanf:"open_library"`
	Audit       AuditConfig       `koanf:"audit"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port" validate:"gt=0,lte=65535"`
	Environment string   `koanf:"environment" validate:"oneof=development production"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// PathsConfig holds the public asset directory layout.
type PathsConfig struct {
	Public     string `koanf:"public" validate:"required"`
	Covers     string `koanf:"covers" validate:"required"`
	TempCovers string `koanf:"temp_covers" validate:"required"`
	Cache      string `koanf:"cache" validate:"required"`
}

// WebSocketConfig holds channel lifecycle policy values.
type WebSocketConfig struct {
	// PingInterval is the cadence of the liveness probe; a peer that misses
	// one full interval is terminated.
	PingInterval time.Duration `koanf:"ping_interval" validate:"gt=0"`

	// UpgradeTimeout bounds session resolution during the HTTP upgrade;
	// past it the raw socket is destroyed.
	UpgradeTimeout time.Duration `koanf:"upgrade_timeout" validate:"gt=0"`

	// ShutdownTimeout bounds graceful close of the listener.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// IdleCheckInterval is the cadence of the per-channel inactivity check.
	IdleCheckInterval time.Duration `koanf:"idle_check_interval" validate:"gt=0"`

	// InactivityCeiling is the maximum time a channel may sit without a
	// semantic frame before it is expired.
	InactivityCeiling time.Duration `koanf:"inactivity_ceiling" validate:"gt=0"`

	// MaxMessageSize is the inbound frame size limit in bytes.
	MaxMessageSize int64 `koanf:"max_message_size" validate:"gt=0"`
}

// CacheConfig holds the paginated page cache settings.
type CacheConfig struct {
	// PageSizeThreshold is the byte-size bound of one cache page. A page
	// only exceeds it when a single item alone does.
	PageSizeThreshold int `koanf:"page_size_threshold" validate:"gt=0"`
}

// DatabaseConfig holds the catalog database settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// SessionsConfig holds the session token store settings.
type SessionsConfig struct {
	StorePath       string        `koanf:"store_path" validate:"required"`
	CookieName      string        `koanf:"cookie_name" validate:"required"`
	TTL             time.Duration `koanf:"ttl" validate:"gt=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// OpenLibraryConfig holds the external metadata search client settings.
type OpenLibraryConfig struct {
	SearchURL string `koanf:"search_url" validate:"required,url"`
	CoversURL string `koanf:"covers_url" validate:"required,url"`

	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RequestsPerSecond and Burst feed the client-side rate limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"gt=0"`
}

// AuditConfig holds audit side-channel settings.
type AuditConfig struct {
	Enabled    bool   `koanf:"enabled"`
	StorePath  string `koanf:"store_path" validate:"required"`
	BufferSize int    `koanf:"buffer_size" validate:"gt=0"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3005,
			Environment: "development",
			CORSOrigins: []string{"*"},
		},
		Paths: PathsConfig{
			Public:     "/data/public",
			Covers:     "/data/public/covers",
			TempCovers: "/data/public/temp_covers",
			Cache:      "/data/public/cache",
		},
		WebSocket: WebSocketConfig{
			PingInterval:      30 * time.Second,
			UpgradeTimeout:    10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			IdleCheckInterval: 30 * time.Second,
			InactivityCeiling: 1 * time.Hour,
			MaxMessageSize:    512 * 1024,
		},
		Cache: CacheConfig{
			PageSizeThreshold: 10 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Path:      "/data/libretorio.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Sessions: SessionsConfig{
			StorePath:       "/data/sessions",
			CookieName:      "libretorio_session",
			TTL:             24 * time.Hour,
			CleanupInterval: 1 * time.Hour,
		},
		OpenLibrary: OpenLibraryConfig{
			SearchURL:         "https://openlibrary.org/search.json",
			CoversURL:         "https://covers.openlibrary.org",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 1,
			Burst:             3,
		},
		Audit: AuditConfig{
			Enabled:    true,
			StorePath:  "/data/audit",
			BufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.WebSocket.InactivityCeiling < c.WebSocket.IdleCheckInterval {
		return fmt.Errorf("websocket inactivity ceiling (%s) must not be below the idle check interval (%s)",
			c.WebSocket.InactivityCeiling, c.WebSocket.IdleCheckInterval)
	}

	return nil
}
