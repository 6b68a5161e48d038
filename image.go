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

	"github.com/termbus/termbus/internal/logbuffer"
)

// Header describes one delivered fragment. Header.Length is the original
// payload length of the matching offer.
type Header = logbuffer.Header

// FragmentHandler receives one fragment per prior successful offer. The
// payload slice aliases the log buffer and is valid only for the call.
type FragmentHandler func(payload []byte, header Header)

// Image states. Transitions run one way and at most once; unavailable is
// terminal per image instance.
const (
	imageActive int32 = iota
	imageUnavailable
)

// Image is the data path from one connected publisher session, as seen by
// a subscriber.
type Image struct {
	id        int64
	sessionID int32
	source    string
	buffer    *logbuffer.Buffer
	reader    *logbuffer.ReaderPosition
	state     atomic.Int32
}

func newImage(id int64, sessionID int32, source string, buffer *logbuffer.Buffer, reader *logbuffer.ReaderPosition) *Image {
	img := &Image{
		id:        id,
		sessionID: sessionID,
		source:    source,
		buffer:    buffer,
		reader:    reader,
	}
	img.state.Store(imageActive)
	return img
}

// CorrelationID returns the driver-assigned image identity.
func (img *Image) CorrelationID() int64 { return img.id }

// SessionID returns the publisher session this image carries.
func (img *Image) SessionID() int32 { return img.sessionID }

// SourceIdentity describes the publisher's channel endpoint.
func (img *Image) SourceIdentity() string { return img.source }

// Position returns the stream position this image has consumed up to.
func (img *Image) Position() int64 { return img.reader.Get() }

// IsAvailable reports whether the image still has a live data path.
func (img *Image) IsAvailable() bool { return img.state.Load() == imageActive }

// retire moves the image to its terminal state. True on the first call only.
func (img *Image) retire() bool {
	return img.state.CompareAndSwap(imageActive, imageUnavailable)
}

// Poll delivers up to fragmentLimit committed fragments to handler and
// advances the image position past them. An unavailable image polls as 0,
// never an error.
func (img *Image) Poll(handler FragmentHandler, fragmentLimit int) int {
	if img.state.Load() != imageActive {
		return 0
	}
	position := img.reader.Get()
	n, newPosition := img.buffer.Read(position, logbuffer.FragmentHandler(handler), fragmentLimit)
	if newPosition > position {
		img.reader.Set(newPosition)
	}
	return n
}
