// Copyright 2025 Blink Labs Software
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

package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type eventMetrics struct {
	eventsTotal   *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	subscribers   *prometheus.GaugeVec
}

func newEventMetrics(promRegistry prometheus.Registerer) *eventMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &eventMetrics{
		eventsTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ballotbox_eventbus_events_total",
				Help: "total events published per event type",
			},
			[]string{"type"},
		),
		eventsDropped: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ballotbox_eventbus_events_dropped_total",
				Help: "events dropped on closed subscribers",
			},
			[]string{"type"},
		),
		subscribers: promautoFactory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ballotbox_eventbus_subscribers",
				Help: "current subscriber count per event type",
			},
			[]string{"type"},
		),
	}
}
