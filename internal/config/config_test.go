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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Driver.TermLength != 64*1024 {
		t.Fatalf("default term length = %d, want 65536", cfg.Driver.TermLength)
	}
	if cfg.Driver.Linger != 5*time.Second {
		t.Fatalf("default linger = %v, want 5s", cfg.Driver.Linger)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "termbus.yaml")
	body := []byte("driver:\n  term_length: 131072\n  linger: 1ms\nclient:\n  driver_timeout: 2s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Driver.TermLength != 131072 {
		t.Fatalf("term length = %d, want 131072", cfg.Driver.TermLength)
	}
	if cfg.Driver.Linger != time.Millisecond {
		t.Fatalf("linger = %v, want 1ms", cfg.Driver.Linger)
	}
	if cfg.Client.DriverTimeout != 2*time.Second {
		t.Fatalf("driver timeout = %v, want 2s", cfg.Client.DriverTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Driver.MaxCounters != 1024 {
		t.Fatalf("max counters = %d, want default 1024", cfg.Driver.MaxCounters)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "termbus.yaml")
	if err := os.WriteFile(path, []byte("driver:\n  term_length: 1000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load should reject non power-of-two term length")
	}
}
