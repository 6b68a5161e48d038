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
	"sync"
	"sync/atomic"

	"github.com/termbus/termbus/internal/driver"
)

// Subscription is a reader handle aggregating the images of every connected
// publisher on one channel and stream. Poll is safe to call from one reader
// goroutine while the conductor attaches and retires images.
type Subscription struct {
	client   *Client
	regID    int64
	channel  string
	streamID int32

	onAvailable        ImageHandler
	availableClientd   any
	onUnavailable      ImageHandler
	unavailableClientd any

	// images holds []*Image copy-on-write; imagesMu serializes writers
	// (the conductor and Close).
	imagesMu sync.Mutex
	images   atomic.Value

	roundRobin atomic.Int64
	closed     atomic.Bool
}

// Channel returns the channel URI the subscription was added with.
func (s *Subscription) Channel() string { return s.channel }

// StreamID returns the stream the subscription reads.
func (s *Subscription) StreamID() int32 { return s.streamID }

// RegistrationID returns the id assigned when the add was submitted.
func (s *Subscription) RegistrationID() int64 { return s.regID }

// IsConnected reports whether at least one image is available.
func (s *Subscription) IsConnected() bool {
	for _, img := range s.loadImages() {
		if img.IsAvailable() {
			return true
		}
	}
	return false
}

// ImageCount returns the number of attached images.
func (s *Subscription) ImageCount() int { return len(s.loadImages()) }

// IsClosed reports whether Close was called on this handle.
func (s *Subscription) IsClosed() bool { return s.closed.Load() }

func (s *Subscription) loadImages() []*Image {
	return s.images.Load().([]*Image)
}

func (s *Subscription) addImage(img *Image) {
	s.imagesMu.Lock()
	defer s.imagesMu.Unlock()
	current := s.loadImages()
	next := make([]*Image, len(current)+1)
	copy(next, current)
	next[len(current)] = img
	s.images.Store(next)
}

// retireImage removes the image and returns it on the first retirement,
// nil when it was already gone.
func (s *Subscription) retireImage(id int64) *Image {
	s.imagesMu.Lock()
	defer s.imagesMu.Unlock()

	current := s.loadImages()
	for i, img := range current {
		if img.id != id {
			continue
		}
		if !img.retire() {
			return nil
		}
		next := make([]*Image, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		s.images.Store(next)
		return img
	}
	return nil
}

// Poll drains up to fragmentLimit fragments across the attached images,
// invoking handler once per fragment, and returns the count delivered.
// Zero is a normal outcome. The starting image rotates per call; order is
// stable within a call, unordered across images, and strictly ordered
// within each image's own stream.
func (s *Subscription) Poll(handler FragmentHandler, fragmentLimit int) int {
	if s.closed.Load() || fragmentLimit <= 0 {
		return 0
	}
	images := s.loadImages()
	n := len(images)
	if n == 0 {
		return 0
	}

	start := int(s.roundRobin.Add(1)) % n
	total := 0
	for i := 0; i < n && total < fragmentLimit; i++ {
		total += images[(start+i)%n].Poll(handler, fragmentLimit-total)
	}
	return total
}

// Close schedules asynchronous teardown. Attached images go unavailable,
// each firing the unavailable handler once; onComplete, if non-nil, is then
// invoked exactly once with clientd from the conductor goroutine. Close is
// idempotent; only the first call notifies.
func (s *Subscription) Close(onComplete CloseHandler, clientd any) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.submitClose(driver.CommandRemoveSubscription, s.regID, onComplete, clientd)
}
