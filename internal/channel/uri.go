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

// Package channel parses channel URIs of the form
//
//	termbus:ipc
//	termbus:udp?endpoint=host:port|term-length=64k|linger=0
//
// The first parameter follows '?', further parameters are pipe-delimited
// key=value pairs. Parsing is a synchronous concern; semantic conflicts
// between registrations surface later, when the driver resolves them.
package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scheme is the accepted URI scheme.
const Scheme = "termbus"

// IPCChannel is the canonical same-host channel.
const IPCChannel = "termbus:ipc"

// Media identifies the transport medium of a channel.
type Media string

const (
	MediaIPC Media = "ipc"
	MediaUDP Media = "udp"
)

// Parameter keys.
const (
	ParamEndpoint   = "endpoint"
	ParamTermLength = "term-length"
	ParamLinger     = "linger"
)

var (
	// ErrMalformed reports a URI that does not parse at all.
	ErrMalformed = errors.New("channel: malformed uri")
	// ErrParam reports a parameter with an invalid value.
	ErrParam = errors.New("channel: invalid parameter")
)

// URI is a parsed channel address.
type URI struct {
	Media    Media
	Endpoint string // host:port, UDP only

	// TermLength overrides the configured default when > 0.
	TermLength int32
	// Linger overrides the configured default when >= 0; -1 means unset.
	Linger time.Duration

	raw string
}

// Parse validates and decomposes a channel URI. Unknown keys are rejected;
// this is a tier-1 synchronous validation failure.
func Parse(uri string) (URI, error) {
	out := URI{Linger: -1, raw: uri}

	rest, ok := strings.CutPrefix(uri, Scheme+":")
	if !ok || rest == "" {
		return URI{}, fmt.Errorf("%w: %q must start with %q", ErrMalformed, uri, Scheme+":")
	}

	media := rest
	params := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		media, params = rest[:i], rest[i+1:]
	}

	switch Media(media) {
	case MediaIPC:
		out.Media = MediaIPC
	case MediaUDP:
		out.Media = MediaUDP
	default:
		return URI{}, fmt.Errorf("%w: unknown media %q in %q", ErrMalformed, media, uri)
	}

	if params != "" {
		for _, kv := range strings.Split(params, "|") {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" || value == "" {
				return URI{}, fmt.Errorf("%w: parameter %q in %q", ErrMalformed, kv, uri)
			}
			if err := out.apply(key, value); err != nil {
				return URI{}, err
			}
		}
	}

	if out.Media == MediaUDP && out.Endpoint == "" {
		return URI{}, fmt.Errorf("%w: udp channel %q requires endpoint", ErrMalformed, uri)
	}
	if out.Media == MediaIPC && out.Endpoint != "" {
		return URI{}, fmt.Errorf("%w: ipc channel %q cannot carry endpoint", ErrMalformed, uri)
	}

	return out, nil
}

func (u *URI) apply(key, value string) error {
	switch key {
	case ParamEndpoint:
		host, port, ok := strings.Cut(value, ":")
		if !ok || host == "" || port == "" {
			return fmt.Errorf("%w: endpoint %q must be host:port", ErrParam, value)
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("%w: endpoint port %q: %v", ErrParam, port, err)
		}
		u.Endpoint = value
	case ParamTermLength:
		n, err := parseSize(value)
		if err != nil {
			return fmt.Errorf("%w: term-length %q: %v", ErrParam, value, err)
		}
		if n < 4096 || n > 1<<30 || n&(n-1) != 0 {
			return fmt.Errorf("%w: term-length %q must be a power of two within bounds", ErrParam, value)
		}
		u.TermLength = int32(n)
	case ParamLinger:
		d, err := parseLinger(value)
		if err != nil {
			return fmt.Errorf("%w: linger %q: %v", ErrParam, value, err)
		}
		u.Linger = d
	default:
		return fmt.Errorf("%w: unknown key %q", ErrParam, key)
	}
	return nil
}

// Canonical returns the registry identity of the channel: media plus
// endpoint. Modifier parameters do not distinguish streams.
func (u URI) Canonical() string {
	if u.Media == MediaUDP {
		return string(MediaUDP) + ":" + u.Endpoint
	}
	return string(MediaIPC)
}

// String returns the original URI text.
func (u URI) String() string { return u.raw }

// parseSize accepts a byte count with an optional k/m/g suffix (KiB, MiB,
// GiB), case-insensitive.
func parseSize(s string) (int64, error) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult, s = 1024, s[:len(s)-1]
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		mult, s = 1024*1024, s[:len(s)-1]
	case strings.HasSuffix(s, "g"), strings.HasSuffix(s, "G"):
		mult, s = 1024*1024*1024, s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("size must be positive")
	}
	return n * mult, nil
}

// parseLinger accepts a Go duration ("5ms") or a bare integer nanosecond
// count; "0" means no linger.
func parseLinger(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, errors.New("linger cannot be negative")
		}
		return time.Duration(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("linger cannot be negative")
	}
	return d, nil
}
