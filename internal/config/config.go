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

// Package config loads driver and client settings from an optional config
// file and TERMBUS_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries the tunables of one driver instance and the clients that
// attach to it.
type Config struct {
	Driver DriverConfig `mapstructure:"driver"`
	Client ClientConfig `mapstructure:"client"`
}

// DriverConfig controls the embedded transport agent.
type DriverConfig struct {
	// TermLength applies to streams whose channel does not set term-length.
	TermLength int32 `mapstructure:"term_length"`
	// Linger applies to closes whose channel does not set linger.
	Linger time.Duration `mapstructure:"linger"`
	// MaxCounters bounds the counters slab.
	MaxCounters int `mapstructure:"max_counters"`
	// DutyInterval paces the driver duty loop between bursts of work.
	DutyInterval time.Duration `mapstructure:"duty_interval"`
	// CommandQueueDepth sizes the per-client command and event queues.
	CommandQueueDepth int `mapstructure:"command_queue_depth"`
}

// ClientConfig controls a client session.
type ClientConfig struct {
	// DutyInterval paces the conductor between bursts of work.
	DutyInterval time.Duration `mapstructure:"duty_interval"`
	// DriverTimeout bounds how long a submitted command may stay pending
	// before it resolves as failed.
	DriverTimeout time.Duration `mapstructure:"driver_timeout"`
}

// Load reads configuration from path (optional, "" = defaults and env only).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("termbus")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration, the one tests run against.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal and validate.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver.term_length", 64*1024)
	v.SetDefault("driver.linger", "5s")
	v.SetDefault("driver.max_counters", 1024)
	v.SetDefault("driver.duty_interval", "100us")
	v.SetDefault("driver.command_queue_depth", 256)
	v.SetDefault("client.duty_interval", "100us")
	v.SetDefault("client.driver_timeout", "10s")
}

// Validate rejects configurations the driver cannot honor.
func (c Config) Validate() error {
	d := c.Driver
	if d.TermLength < 4096 || d.TermLength&(d.TermLength-1) != 0 {
		return fmt.Errorf("driver.term_length %d must be a power of two >= 4096", d.TermLength)
	}
	if d.Linger < 0 {
		return fmt.Errorf("driver.linger cannot be negative")
	}
	if d.MaxCounters <= 0 {
		return fmt.Errorf("driver.max_counters must be positive")
	}
	if d.DutyInterval <= 0 || c.Client.DutyInterval <= 0 {
		return fmt.Errorf("duty intervals must be positive")
	}
	if d.CommandQueueDepth <= 0 {
		return fmt.Errorf("driver.command_queue_depth must be positive")
	}
	if c.Client.DriverTimeout <= 0 {
		return fmt.Errorf("client.driver_timeout must be positive")
	}
	return nil
}
