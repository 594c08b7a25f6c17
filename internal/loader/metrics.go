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

package loader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// loaderReloads tracks directory walks by what triggered them
	loaderReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_loader_reloads_total",
			Help: "Total connector directory walks by trigger (startup, watch)",
		},
		[]string{"trigger"},
	)

	// loaderManifestsSkipped tracks rejected or unreadable manifests
	loaderManifestsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_loader_manifests_skipped_total",
			Help: "Total manifests skipped as invalid or unreadable",
		},
	)

	// loaderInstanceFailures tracks declared instances that failed to initialize
	loaderInstanceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_loader_instance_failures_total",
			Help: "Total declared connector instances that failed to initialize",
		},
	)

	// loaderRateLimited tracks reloads dropped by the watcher rate limit
	loaderRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_loader_rate_limited_total",
			Help: "Total watcher reloads dropped by the rate limit",
		},
	)
)

// recordReload increments the reload counter
func recordReload(trigger string) {
	loaderReloads.WithLabelValues(trigger).Inc()
}

// recordManifestSkipped increments the skipped-manifest counter
func recordManifestSkipped() {
	loaderManifestsSkipped.Inc()
}

// recordInstanceFailure increments the instance-failure counter
func recordInstanceFailure() {
	loaderInstanceFailures.Inc()
}

// recordRateLimited increments the rate-limited counter
func recordRateLimited() {
	loaderRateLimited.Inc()
}
