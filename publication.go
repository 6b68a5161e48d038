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
	"sync/atomic"

	"github.com/termbus/termbus/internal/driver"
	"github.com/termbus/termbus/internal/logbuffer"
)

// pub is the writer-side state shared by Publication and
// ExclusivePublication.
type pub struct {
	client    *Client
	channel   string
	streamID  int32
	sessionID int32
	regID     int64
	buffer    *logbuffer.Buffer
	closed    atomic.Bool
}

func (p *pub) init(c *Client, channel string, streamID, sessionID int32, regID int64, buffer *logbuffer.Buffer) {
	p.client = c
	p.channel = channel
	p.streamID = streamID
	p.sessionID = sessionID
	p.regID = regID
	p.buffer = buffer
}

// Channel returns the channel URI the publication was added with.
func (p *pub) Channel() string { return p.channel }

// StreamID returns the stream the publication writes to.
func (p *pub) StreamID() int32 { return p.streamID }

// SessionID returns the driver-assigned session of the log buffer.
func (p *pub) SessionID() int32 { return p.sessionID }

// RegistrationID returns the id assigned when the add was submitted.
func (p *pub) RegistrationID() int64 { return p.regID }

// TermBufferLength returns the length of each term in bytes.
func (p *pub) TermBufferLength() int32 { return p.buffer.TermLength() }

// MaxMessageLength returns the largest payload a single offer accepts.
func (p *pub) MaxMessageLength() int32 { return p.buffer.MaxMessageLength() }

// Position returns the stream position the next committed frame would
// start at.
func (p *pub) Position() int64 {
	if p.closed.Load() {
		return PublicationClosed
	}
	return p.buffer.Position()
}

// IsConnected reports whether at least one image is attached to the stream.
func (p *pub) IsConnected() bool {
	return !p.closed.Load() && p.buffer.IsConnected()
}

// IsClosed reports whether Close was called on this handle.
func (p *pub) IsClosed() bool { return p.closed.Load() }

// Offer appends payload to the stream without blocking. A non-negative
// result is the stream position after the new frame. Negative results are
// the offer sentinels; BackPressured and AdminAction are transient and the
// caller owns the retry policy.
func (p *pub) Offer(payload []byte) int64 {
	if p.closed.Load() {
		return PublicationClosed
	}
	return p.buffer.Offer(payload)
}

// close submits the publication's asynchronous teardown once.
func (p *pub) close(onComplete CloseHandler, clientd any) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.client.submitClose(driver.CommandRemovePublication, p.regID, onComplete, clientd)
}

// Publication is a writer handle added with AsyncAddPublication. Shared
// adds of the same channel and stream write into one session.
type Publication struct {
	pub
}

// Close schedules asynchronous teardown. onComplete, if non-nil, is invoked
// exactly once with clientd after driver-side teardown and linger, from the
// conductor goroutine. Close is idempotent; only the first call notifies.
func (p *Publication) Close(onComplete CloseHandler, clientd any) error {
	return p.close(onComplete, clientd)
}

// ExclusivePublication is a writer handle with a private session: its log
// buffer is never shared with other adds of the same channel and stream.
type ExclusivePublication struct {
	pub
}

// Close schedules asynchronous teardown. onComplete, if non-nil, is invoked
// exactly once with clientd after driver-side teardown and linger, from the
// conductor goroutine. Close is idempotent; only the first call notifies.
func (p *ExclusivePublication) Close(onComplete CloseHandler, clientd any) error {
	return p.close(onComplete, clientd)
}
