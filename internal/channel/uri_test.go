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

package channel

import (
	"errors"
	"testing"
	"time"
)

func TestParseIPC(t *testing.T) {
	u, err := Parse("termbus:ipc")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Media != MediaIPC {
		t.Fatalf("media = %q, want ipc", u.Media)
	}
	if u.TermLength != 0 {
		t.Fatalf("term length = %d, want unset", u.TermLength)
	}
	if u.Linger != -1 {
		t.Fatalf("linger = %v, want unset", u.Linger)
	}
	if u.Canonical() != "ipc" {
		t.Fatalf("canonical = %q, want ipc", u.Canonical())
	}
}

func TestParseUDPWithModifiers(t *testing.T) {
	u, err := Parse("termbus:udp?endpoint=localhost:24325|term-length=64k|linger=0")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Media != MediaUDP {
		t.Fatalf("media = %q, want udp", u.Media)
	}
	if u.Endpoint != "localhost:24325" {
		t.Fatalf("endpoint = %q", u.Endpoint)
	}
	if u.TermLength != 64*1024 {
		t.Fatalf("term length = %d, want 65536", u.TermLength)
	}
	if u.Linger != 0 {
		t.Fatalf("linger = %v, want 0", u.Linger)
	}
	if u.Canonical() != "udp:localhost:24325" {
		t.Fatalf("canonical = %q", u.Canonical())
	}
}

func TestParseLingerForms(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
	}{
		{"0", 0},
		{"1000000", time.Millisecond},
		{"5ms", 5 * time.Millisecond},
		{"1s", time.Second},
	}
	for _, c := range cases {
		u, err := Parse("termbus:ipc?linger=" + c.value)
		if err != nil {
			t.Fatalf("Parse(linger=%s) failed: %v", c.value, err)
		}
		if u.Linger != c.want {
			t.Fatalf("linger=%s parsed to %v, want %v", c.value, u.Linger, c.want)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"termbus:",
		"msgbus:ipc",
		"termbus:tcp?endpoint=localhost:1",
		"termbus:udp",                       // missing endpoint
		"termbus:udp?endpoint=localhost",    // no port
		"termbus:udp?endpoint=localhost:x",  // bad port
		"termbus:ipc?endpoint=localhost:80", // endpoint on ipc
		"termbus:ipc?term-length",           // no value
		"termbus:ipc?bogus=1",               // unknown key
	}
	for _, uri := range bad {
		if _, err := Parse(uri); err == nil {
			t.Fatalf("Parse(%q) should fail", uri)
		}
	}
}

func TestParseRejectsBadTermLength(t *testing.T) {
	bad := []string{"0", "100", "3k", "2g", "-64k"}
	for _, v := range bad {
		_, err := Parse("termbus:ipc?term-length=" + v)
		if err == nil {
			t.Fatalf("term-length=%s should fail", v)
		}
		if !errors.Is(err, ErrParam) {
			t.Fatalf("term-length=%s error = %v, want ErrParam", v, err)
		}
	}
	for _, v := range []string{"4096", "64k", "1m"} {
		if _, err := Parse("termbus:ipc?term-length=" + v); err != nil {
			t.Fatalf("term-length=%s should parse: %v", v, err)
		}
	}
}
