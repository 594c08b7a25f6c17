// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus collectors for the connector host.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/conduit/internal/breaker"
)

var (
	// operationsTotal tracks uniform operations by connector, operation and outcome
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_operations_total",
			Help: "Total uniform operations by connector id, operation and status",
		},
		[]string{"connector_id", "operation", "status"},
	)

	// operationDuration tracks operation latency
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduit_operation_duration_seconds",
			Help:    "Uniform operation latency by connector id and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connector_id", "operation"},
	)

	// breakerState tracks the current breaker state per connector
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conduit_breaker_state",
			Help: "Circuit breaker state per connector id (0=closed, 1=half-open, 2=open)",
		},
		[]string{"connector_id"},
	)

	// breakerRejections tracks calls the breaker refused
	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_breaker_rejections_total",
			Help: "Calls rejected by the breaker by connector id and reason",
		},
		[]string{"connector_id", "reason"},
	)

	// cacheRequests tracks cache lookups by purpose and outcome
	cacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_cache_requests_total",
			Help: "Facade cache lookups by purpose tag and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	// cacheInvalidations tracks prefix invalidations after writes
	cacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_cache_invalidations_total",
			Help: "Cache entries invalidated after writes by purpose tag",
		},
		[]string{"purpose"},
	)

	// connectorsLoaded tracks registered connector instances
	connectorsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_connector_instances",
			Help: "Number of registered connector instances",
		},
	)

	// sessionConnects tracks control-plane session lifecycle events
	sessionConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_session_connects_total",
			Help: "Control-plane WebSocket connections by outcome",
		},
		[]string{"outcome"},
	)

	// sessionFrames tracks inbound frames by type
	sessionFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_session_frames_total",
			Help: "Inbound control-plane frames by frame type",
		},
		[]string{"type"},
	)

	// tokenRefreshes tracks OAuth token fetches
	tokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_token_refreshes_total",
			Help: "OAuth token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// syncChanges tracks delta sync volume
	syncChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_sync_changes_total",
			Help: "Objects delivered by delta sync per connector id",
		},
		[]string{"connector_id"},
	)
)

// RecordOperation observes one completed uniform operation.
func RecordOperation(connectorID, operation, status string, duration time.Duration) {
	operationsTotal.WithLabelValues(connectorID, operation, status).Inc()
	operationDuration.WithLabelValues(connectorID, operation).Observe(duration.Seconds())
}

// SetBreakerState publishes the breaker state for a connector.
func SetBreakerState(connectorID string, state breaker.State) {
	var v float64
	switch state {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	breakerState.WithLabelValues(connectorID).Set(v)
}

// RecordBreakerRejection counts a call the breaker refused.
func RecordBreakerRejection(connectorID, reason string) {
	breakerRejections.WithLabelValues(connectorID, reason).Inc()
}

// RecordCacheHit counts a cache hit for a purpose tag.
func RecordCacheHit(purpose string) {
	cacheRequests.WithLabelValues(purpose, "hit").Inc()
}

// RecordCacheMiss counts a cache miss for a purpose tag.
func RecordCacheMiss(purpose string) {
	cacheRequests.WithLabelValues(purpose, "miss").Inc()
}

// RecordCacheInvalidation counts entries dropped by a write.
func RecordCacheInvalidation(purpose string, count int) {
	cacheInvalidations.WithLabelValues(purpose).Add(float64(count))
}

// SetConnectorsLoaded publishes the registered instance count.
func SetConnectorsLoaded(count int) {
	connectorsLoaded.Set(float64(count))
}

// RecordSessionConnect counts a session connection attempt outcome
// ("connected", "failed", "reconnect").
func RecordSessionConnect(outcome string) {
	sessionConnects.WithLabelValues(outcome).Inc()
}

// RecordSessionFrame counts one inbound frame by type.
func RecordSessionFrame(frameType string) {
	sessionFrames.WithLabelValues(frameType).Inc()
}

// RecordTokenRefresh counts an OAuth token fetch outcome ("ok",
// "failed").
func RecordTokenRefresh(outcome string) {
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordSyncChanges counts objects returned by a delta sync.
func RecordSyncChanges(connectorID string, count int) {
	syncChanges.WithLabelValues(connectorID).Add(float64(count))
}
