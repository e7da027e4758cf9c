// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package session

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Rigo85/libretorio/internal/logging"
)

// CleanupService periodically purges expired sessions. It runs under the
// supervision tree.
type CleanupService struct {
	store    *BadgerStore
	interval time.Duration
	clock    clock.Clock
}

// NewCleanupService creates the purge service with the given sweep
// interval.
func NewCleanupService(store *BadgerStore, interval time.Duration) *CleanupService {
	return &CleanupService{store: store, interval: interval, clock: clock.New()}
}

// Serve runs sweeps until the context is canceled.
func (c *CleanupService) Serve(ctx context.Context) error {
	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := c.store.CleanupExpired(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("session cleanup sweep failed")
				continue
			}
			if removed > 0 {
				logging.Info().Int("removed", removed).Msg("expired sessions purged")
			}
		}
	}
}

func (c *CleanupService) String() string {
	return "session-cleanup"
}
