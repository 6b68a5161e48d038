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

package termbus

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/termbus/termbus/internal/config"
	"github.com/termbus/termbus/internal/driver"
)

// Driver is an embedded transport agent. Drivers are explicit dependencies:
// start one, hand it to the clients that should share it, close it when the
// last client is done. There is no process-wide default instance.
type Driver struct {
	inner     *driver.Driver
	clientCfg config.ClientConfig
}

// DriverOptions overrides the loaded configuration. Zero values keep the
// configured (or built-in) defaults.
type DriverOptions struct {
	// ConfigPath names an optional config file; "" loads defaults plus
	// TERMBUS_* environment variables.
	ConfigPath string
	// TermLength overrides the default term length for streams whose
	// channel does not set term-length.
	TermLength int32
	// Linger overrides the default linger for closes whose channel does
	// not set linger.
	Linger time.Duration
}

// StartDriver launches an embedded driver.
func StartDriver(opts DriverOptions) (*Driver, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("termbus: %w", err)
	}
	if opts.TermLength > 0 {
		cfg.Driver.TermLength = opts.TermLength
	}
	if opts.Linger > 0 {
		cfg.Driver.Linger = opts.Linger
	}

	inner, err := driver.Start(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("termbus: start driver: %w", err)
	}
	return &Driver{inner: inner, clientCfg: cfg.Client}, nil
}

// InstanceID returns the driver's unique instance identity.
func (d *Driver) InstanceID() string { return d.inner.InstanceID() }

// MetricsRegistry exposes the driver's private prometheus registry, so a
// host process can mount it on whatever handler it runs.
func (d *Driver) MetricsRegistry() *prometheus.Registry {
	return d.inner.Metrics().Registry()
}

// Close stops the driver. Clients still attached stop receiving completions;
// close drivers after their clients.
func (d *Driver) Close() { d.inner.Stop() }
