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

package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// auditEntries tracks journal rows written by transport and outcome
	auditEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_audit_entries_total",
			Help: "Total audit journal entries recorded by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	// auditSwept tracks rows removed by the retention sweeper
	auditSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conduit_audit_swept_total",
			Help: "Total audit journal entries removed by retention sweeps",
		},
	)
)

// recordEntry increments the entry counter
func recordEntry(transport, outcome string) {
	auditEntries.WithLabelValues(transport, outcome).Inc()
}

// recordSwept adds removed rows to the sweep counter
func recordSwept(count int64) {
	auditSwept.Add(float64(count))
}
