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

package driver

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// MaxCounterLabelLength bounds counter label text in bytes. Labels are stored
// verbatim, never interpreted.
const MaxCounterLabelLength = 380

var (
	// ErrCountersExhausted reports a full counters slab.
	ErrCountersExhausted = errors.New("counters: slab exhausted")
	// ErrLabelTooLong reports a label over MaxCounterLabelLength bytes.
	ErrLabelTooLong = errors.New("counters: label too long")
)

// CounterSlot is one allocated counter: a shared scalar plus its label. The
// value is safe for concurrent access from any goroutine.
type CounterSlot struct {
	id    int32
	value atomic.Int64
	label string
}

// ID returns the slot's counter id.
func (s *CounterSlot) ID() int32 { return s.id }

// Label returns the label text stored at registration.
func (s *CounterSlot) Label() string { return s.label }

// Get returns the current counter value.
func (s *CounterSlot) Get() int64 { return s.value.Load() }

// Set stores a new counter value.
func (s *CounterSlot) Set(v int64) { s.value.Store(v) }

// AddAndGet adds delta and returns the new value.
func (s *CounterSlot) AddAndGet(delta int64) int64 { return s.value.Add(delta) }

// CompareAndSet updates the value only if it still equals expected.
func (s *CounterSlot) CompareAndSet(expected, update int64) bool {
	return s.value.CompareAndSwap(expected, update)
}

// countersManager allocates counter slots from a bounded slab with slot
// reuse. It is driver duty-loop owned: allocation and freeing are never
// concurrent, only slot value access is.
type countersManager struct {
	slots    []*CounterSlot
	free     []int32
	maxSlots int
	typeIDs  map[int32]int32 // counterID -> typeID
}

func newCountersManager(maxSlots int) *countersManager {
	return &countersManager{
		maxSlots: maxSlots,
		typeIDs:  make(map[int32]int32),
	}
}

// allocate returns a fresh or recycled slot holding label verbatim.
func (m *countersManager) allocate(typeID int32, label string) (*CounterSlot, error) {
	if len(label) > MaxCounterLabelLength {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrLabelTooLong, len(label), MaxCounterLabelLength)
	}

	var slot *CounterSlot
	if n := len(m.free); n > 0 {
		id := m.free[n-1]
		m.free = m.free[:n-1]
		slot = &CounterSlot{id: id, label: label}
		m.slots[id] = slot
	} else {
		if len(m.slots) >= m.maxSlots {
			return nil, fmt.Errorf("%w: %d slots in use", ErrCountersExhausted, m.maxSlots)
		}
		slot = &CounterSlot{id: int32(len(m.slots)), label: label}
		m.slots = append(m.slots, slot)
	}

	m.typeIDs[slot.id] = typeID
	return slot, nil
}

// release frees a slot id for reuse. Stale handles to the old slot keep
// their own value; they no longer observe the slab.
func (m *countersManager) release(id int32) error {
	if int(id) >= len(m.slots) || m.slots[id] == nil {
		return fmt.Errorf("counters: unknown counter id %d", id)
	}
	m.slots[id] = nil
	delete(m.typeIDs, id)
	m.free = append(m.free, id)
	return nil
}

// active returns the number of allocated slots.
func (m *countersManager) active() int {
	return len(m.slots) - len(m.free)
}
