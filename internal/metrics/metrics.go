// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package metrics exposes Prometheus instrumentation for the channel
// server and the extraction cache.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChannelsOpen tracks the number of live websocket channels.
	ChannelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "libretorio",
		Subsystem: "channel",
		Name:      "open_total",
		Help:      "Number of currently open websocket channels.",
	})

	// CommandsDispatched counts dispatched commands by event name and outcome.
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "libretorio",
		Subsystem: "dispatch",
		Name:      "commands_total",
		Help:      "Commands dispatched over websocket channels.",
	}, []string{"event", "outcome"})

	// ChannelsExpired counts channel terminations by reason.
	ChannelsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "libretorio",
		Subsystem: "channel",
		Name:      "terminated_total",
		Help:      "Channels terminated by the server, by reason.",
	}, []string{"reason"})

	// CacheHits counts extraction results served from the page cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "libretorio",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Extraction requests satisfied from the page cache.",
	})

	// CacheMisses counts extraction requests that required computation.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "libretorio",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Extraction requests that required running the job.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
