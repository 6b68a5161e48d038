/*
 * Copyright 2026 The Termbus Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package obs

import "github.com/prometheus/client_golang/prometheus"

// DriverMetrics counts driver-side lifecycle activity. Each driver instance
// owns its own registry so isolated drivers in tests never collide on
// registration.
type DriverMetrics struct {
	registry *prometheus.Registry

	CommandsTotal  *prometheus.CounterVec // kind=add_publication|add_subscription|...
	ErrorsTotal    *prometheus.CounterVec // code=conflict|limit|malformed
	ActiveStreams  prometheus.Gauge
	ImagesCreated  prometheus.Counter
	LingersExpired prometheus.Counter
	CountersActive prometheus.Gauge
}

// NewDriverMetrics builds and registers the driver metric set on a fresh
// registry.
func NewDriverMetrics() *DriverMetrics {
	m := &DriverMetrics{
		registry: prometheus.NewRegistry(),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbus_driver_commands_total",
				Help: "Commands processed by the driver, by kind",
			},
			[]string{"kind"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termbus_driver_errors_total",
				Help: "Commands rejected by the driver, by error code",
			},
			[]string{"code"},
		),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "termbus_driver_active_streams",
			Help: "Stream sessions currently carried by the driver",
		}),
		ImagesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "termbus_driver_images_created_total",
			Help: "Images wired between publications and subscriptions",
		}),
		LingersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "termbus_driver_lingers_expired_total",
			Help: "Close operations completed after their linger interval",
		}),
		CountersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "termbus_driver_counters_active",
			Help: "Counters currently allocated in the counters slab",
		}),
	}

	m.registry.MustRegister(
		m.CommandsTotal,
		m.ErrorsTotal,
		m.ActiveStreams,
		m.ImagesCreated,
		m.LingersExpired,
		m.CountersActive,
	)

	return m
}

// Registry exposes the driver's metric registry for scraping or inspection.
func (m *DriverMetrics) Registry() *prometheus.Registry { return m.registry }
