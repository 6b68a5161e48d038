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
	"strings"
	"testing"
)

func TestCountersAllocateAssignsSequentialIDs(t *testing.T) {
	m := newCountersManager(8)

	for i := 0; i < 3; i++ {
		slot, err := m.allocate(7, "slot")
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if got := slot.ID(); got != int32(i) {
			t.Errorf("slot %d: id = %d", i, got)
		}
	}
	if got := m.active(); got != 3 {
		t.Errorf("active = %d, want 3", got)
	}
}

func TestCountersLabelStoredVerbatim(t *testing.T) {
	m := newCountersManager(8)

	label := "sub pos: stream=117 | extra = chars"
	slot, err := m.allocate(12, label)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if slot.Label() != label {
		t.Errorf("label = %q, want %q", slot.Label(), label)
	}
}

func TestCountersLabelLengthBound(t *testing.T) {
	m := newCountersManager(8)

	if _, err := m.allocate(1, strings.Repeat("x", MaxCounterLabelLength)); err != nil {
		t.Fatalf("label at bound rejected: %v", err)
	}
	_, err := m.allocate(1, strings.Repeat("x", MaxCounterLabelLength+1))
	if !errors.Is(err, ErrLabelTooLong) {
		t.Fatalf("err = %v, want ErrLabelTooLong", err)
	}
}

func TestCountersReleaseReusesSlot(t *testing.T) {
	m := newCountersManager(8)

	first, _ := m.allocate(1, "a")
	second, _ := m.allocate(1, "b")
	if err := m.release(first.ID()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := m.active(); got != 1 {
		t.Errorf("active after release = %d, want 1", got)
	}

	third, err := m.allocate(2, "c")
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if third.ID() != first.ID() {
		t.Errorf("reused id = %d, want %d", third.ID(), first.ID())
	}
	if second.ID() == third.ID() {
		t.Errorf("live slot id %d reused", second.ID())
	}
	// The recycled slot starts clean regardless of the old slot's value.
	first.Set(999)
	if got := third.Get(); got != 0 {
		t.Errorf("recycled slot value = %d, want 0", got)
	}
}

func TestCountersExhaustion(t *testing.T) {
	m := newCountersManager(2)

	m.allocate(1, "a")
	m.allocate(1, "b")
	_, err := m.allocate(1, "c")
	if !errors.Is(err, ErrCountersExhausted) {
		t.Fatalf("err = %v, want ErrCountersExhausted", err)
	}
}

func TestCounterSlotValueOps(t *testing.T) {
	m := newCountersManager(2)
	slot, _ := m.allocate(1, "ops")

	if got := slot.AddAndGet(5); got != 5 {
		t.Errorf("AddAndGet = %d, want 5", got)
	}
	slot.Set(10)
	if !slot.CompareAndSet(10, 20) {
		t.Error("CompareAndSet(10, 20) failed at value 10")
	}
	if slot.CompareAndSet(10, 30) {
		t.Error("CompareAndSet(10, 30) succeeded at value 20")
	}
	if got := slot.Get(); got != 20 {
		t.Errorf("Get = %d, want 20", got)
	}
}
