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
)

// Counter is an application-managed shared scalar with a bounded text label
// stored verbatim at registration. Value access is safe from any goroutine.
type Counter struct {
	client *Client
	regID  int64
	slot   *driver.CounterSlot
	closed atomic.Bool
}

// RegistrationID returns the id assigned when the add was submitted.
func (c *Counter) RegistrationID() int64 { return c.regID }

// CounterID returns the driver-assigned slot id.
func (c *Counter) CounterID() int32 { return c.slot.ID() }

// Label returns the label text exactly as registered.
func (c *Counter) Label() string { return c.slot.Label() }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.slot.Get() }

// Set stores a new counter value.
func (c *Counter) Set(v int64) { c.slot.Set(v) }

// Increment adds one and returns the new value.
func (c *Counter) Increment() int64 { return c.slot.AddAndGet(1) }

// AddAndGet adds delta and returns the new value.
func (c *Counter) AddAndGet(delta int64) int64 { return c.slot.AddAndGet(delta) }

// CompareAndSet updates the value only if it still equals expected.
func (c *Counter) CompareAndSet(expected, update int64) bool {
	return c.slot.CompareAndSet(expected, update)
}

// IsClosed reports whether Close was called on this handle.
func (c *Counter) IsClosed() bool { return c.closed.Load() }

// Close schedules asynchronous teardown; the slot returns to the driver's
// slab for reuse. onComplete, if non-nil, is invoked exactly once with
// clientd from the conductor goroutine. Close is idempotent.
func (c *Counter) Close(onComplete CloseHandler, clientd any) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.client.submitClose(driver.CommandRemoveCounter, c.regID, onComplete, clientd)
}
