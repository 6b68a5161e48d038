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
	"testing"
	"time"

	"github.com/termbus/termbus/internal/channel"
	"github.com/termbus/termbus/internal/config"
)

const testStreamID int32 = 117

func startTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg := config.Default().Driver
	cfg.Linger = time.Millisecond
	d, err := Start(cfg)
	if err != nil {
		t.Fatalf("start driver: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func attach(t *testing.T, d *Driver) *ClientSession {
	t.Helper()
	sess, err := d.Attach()
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(sess.Detach)
	return sess
}

func mustParse(t *testing.T, uri string) channel.URI {
	t.Helper()
	u, err := channel.Parse(uri)
	if err != nil {
		t.Fatalf("parse %q: %v", uri, err)
	}
	return u
}

// nextEvent waits for the next driver event or fails the test.
func nextEvent(t *testing.T, sess *ClientSession) Event {
	t.Helper()
	select {
	case ev := <-sess.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for driver event")
		return nil
	}
}

func addPublication(t *testing.T, sess *ClientSession, uri string) (int64, PublicationReady) {
	t.Helper()
	corrID := sess.NextCorrelationID()
	if err := sess.Submit(Command{
		Kind:          CommandAddPublication,
		CorrelationID: corrID,
		URI:           mustParse(t, uri),
		StreamID:      testStreamID,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := nextEvent(t, sess)
	ready, ok := ev.(PublicationReady)
	if !ok {
		t.Fatalf("event = %#v, want PublicationReady", ev)
	}
	if ready.CorrelationID != corrID {
		t.Fatalf("correlation id = %d, want %d", ready.CorrelationID, corrID)
	}
	return corrID, ready
}

func addSubscription(t *testing.T, sess *ClientSession, uri string) int64 {
	t.Helper()
	corrID := sess.NextCorrelationID()
	if err := sess.Submit(Command{
		Kind:          CommandAddSubscription,
		CorrelationID: corrID,
		URI:           mustParse(t, uri),
		StreamID:      testStreamID,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := nextEvent(t, sess)
	ready, ok := ev.(SubscriptionReady)
	if !ok {
		t.Fatalf("event = %#v, want SubscriptionReady", ev)
	}
	if ready.CorrelationID != corrID {
		t.Fatalf("correlation id = %d, want %d", ready.CorrelationID, corrID)
	}
	return corrID
}

func TestCorrelationIDsUniqueAcrossClients(t *testing.T) {
	d := startTestDriver(t)
	a := attach(t, d)
	b := attach(t, d)

	seen := make(map[int64]bool)
	for i := 0; i < 100; i++ {
		for _, sess := range []*ClientSession{a, b} {
			id := sess.NextCorrelationID()
			if seen[id] {
				t.Fatalf("correlation id %d issued twice", id)
			}
			seen[id] = true
		}
	}
}

func TestPublicationThenSubscriptionCreatesImage(t *testing.T) {
	d := startTestDriver(t)
	pubClient := attach(t, d)
	subClient := attach(t, d)

	_, ready := addPublication(t, pubClient, channel.IPCChannel)
	subID := addSubscription(t, subClient, channel.IPCChannel)

	ev := nextEvent(t, subClient)
	img, ok := ev.(AvailableImage)
	if !ok {
		t.Fatalf("event = %#v, want AvailableImage", ev)
	}
	if img.SubscriptionID != subID {
		t.Errorf("subscription id = %d, want %d", img.SubscriptionID, subID)
	}
	if img.SessionID != ready.SessionID {
		t.Errorf("session id = %d, want %d", img.SessionID, ready.SessionID)
	}
	if img.Buffer != ready.Buffer {
		t.Error("image does not share the publication's log buffer")
	}
	if img.SourceIdentity != "ipc" {
		t.Errorf("source identity = %q", img.SourceIdentity)
	}
}

func TestSubscriptionThenPublicationCreatesImage(t *testing.T) {
	d := startTestDriver(t)
	pubClient := attach(t, d)
	subClient := attach(t, d)

	subID := addSubscription(t, subClient, channel.IPCChannel)
	_, ready := addPublication(t, pubClient, channel.IPCChannel)

	ev := nextEvent(t, subClient)
	img, ok := ev.(AvailableImage)
	if !ok {
		t.Fatalf("event = %#v, want AvailableImage", ev)
	}
	if img.SubscriptionID != subID || img.SessionID != ready.SessionID {
		t.Errorf("image = %+v", img)
	}
}

func TestSharedPublicationsReuseSession(t *testing.T) {
	d := startTestDriver(t)
	sess := attach(t, d)

	_, first := addPublication(t, sess, channel.IPCChannel)
	_, second := addPublication(t, sess, channel.IPCChannel)

	if first.SessionID != second.SessionID {
		t.Errorf("session ids %d and %d, want shared", first.SessionID, second.SessionID)
	}
	if first.Buffer != second.Buffer {
		t.Error("shared publications got distinct buffers")
	}
}

func TestExclusivePublicationsGetDistinctSessions(t *testing.T) {
	d := startTestDriver(t)
	sess := attach(t, d)

	add := func() PublicationReady {
		corrID := sess.NextCorrelationID()
		if err := sess.Submit(Command{
			Kind:          CommandAddExclusivePublication,
			CorrelationID: corrID,
			URI:           mustParse(t, channel.IPCChannel),
			StreamID:      testStreamID,
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		ready, ok := nextEvent(t, sess).(PublicationReady)
		if !ok {
			t.Fatal("want PublicationReady")
		}
		return ready
	}

	first := add()
	second := add()
	if first.SessionID == second.SessionID {
		t.Errorf("exclusive publications share session %d", first.SessionID)
	}
}

func TestTermLengthConflictFailsCommand(t *testing.T) {
	d := startTestDriver(t)
	sess := attach(t, d)

	addPublication(t, sess, "termbus:udp?endpoint=localhost:24325|term-length=64k")

	corrID := sess.NextCorrelationID()
	if err := sess.Submit(Command{
		Kind:          CommandAddPublication,
		CorrelationID: corrID,
		URI:           mustParse(t, "termbus:udp?endpoint=localhost:24325|term-length=128k"),
		StreamID:      testStreamID,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ev := nextEvent(t, sess)
	cmdErr, ok := ev.(CommandError)
	if !ok {
		t.Fatalf("event = %#v, want CommandError", ev)
	}
	if cmdErr.CorrelationID != corrID || cmdErr.Code != ErrCodeConflict {
		t.Errorf("error = %+v", cmdErr)
	}
}

func TestRemovePublicationCompletesAfterLinger(t *testing.T) {
	d := startTestDriver(t)
	sess := attach(t, d)

	regID, _ := addPublication(t, sess, channel.IPCChannel)

	corrID := sess.NextCorrelationID()
	if err := sess.Submit(Command{
		Kind:          CommandRemovePublication,
		CorrelationID: corrID,
		ResourceID:    regID,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ev := nextEvent(t, sess)
	done, ok := ev.(OperationSucceeded)
	if !ok {
		t.Fatalf("event = %#v, want OperationSucceeded", ev)
	}
	if done.CorrelationID != corrID {
		t.Errorf("correlation id = %d, want %d", done.CorrelationID, corrID)
	}
}

func TestRemoveSharedPublicationKeepsSession(t *testing.T) {
	d := startTestDriver(t)
	pubClient := attach(t, d)
	subClient := attach(t, d)

	firstReg, _ := addPublication(t, pubClient, channel.IPCChannel)
	addPublication(t, pubClient, channel.IPCChannel)
	addSubscription(t, subClient, channel.IPCChannel)
	nextEvent(t, subClient) // AvailableImage

	corrID := pubClient.NextCorrelationID()
	pubClient.Submit(Command{Kind: CommandRemovePublication, CorrelationID: corrID, ResourceID: firstReg})
	if _, ok := nextEvent(t, pubClient).(OperationSucceeded); !ok {
		t.Fatal("want OperationSucceeded")
	}

	// The session is still referenced, so the image stays available.
	select {
	case ev := <-subClient.Events():
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublicationCloseMakesImageUnavailable(t *testing.T) {
	d := startTestDriver(t)
	pubClient := attach(t, d)
	subClient := attach(t, d)

	regID, _ := addPublication(t, pubClient, channel.IPCChannel)
	subID := addSubscription(t, subClient, channel.IPCChannel)
	img, ok := nextEvent(t, subClient).(AvailableImage)
	if !ok {
		t.Fatal("want AvailableImage")
	}

	corrID := pubClient.NextCorrelationID()
	pubClient.Submit(Command{Kind: CommandRemovePublication, CorrelationID: corrID, ResourceID: regID})

	ev := nextEvent(t, subClient)
	gone, ok := ev.(UnavailableImage)
	if !ok {
		t.Fatalf("event = %#v, want UnavailableImage", ev)
	}
	if gone.SubscriptionID != subID || gone.ImageID != img.ImageID {
		t.Errorf("unavailable = %+v, want sub %d image %d", gone, subID, img.ImageID)
	}

	// Unavailable is terminal and delivered once; the linger completion goes
	// only to the publisher.
	if _, ok := nextEvent(t, pubClient).(OperationSucceeded); !ok {
		t.Fatal("want OperationSucceeded for publisher")
	}
	select {
	case ev := <-subClient.Events():
		t.Fatalf("duplicate event %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRemoveSubscriptionRetiresOwnImages(t *testing.T) {
	d := startTestDriver(t)
	sess := attach(t, d)

	addPublication(t, sess, channel.IPCChannel)
	subID := addSubscription(t, sess, channel.IPCChannel)
	if _, ok := nextEvent(t, sess).(AvailableImage); !ok {
		t.Fatal("want AvailableImage")
	}

	corrID := sess.NextCorrelationID()
	sess.Submit(Command{Kind: CommandRemoveSubscription, CorrelationID: corrID, ResourceID: subID})

	if gone, ok := nextEvent(t, sess).(UnavailableImage); !ok || gone.SubscriptionID != subID {
		t.Fatalf("want UnavailableImage for sub %d", subID)
	}
	if _, ok := nextEvent(t, sess).(OperationSucceeded); !ok {
		t.Fatal("want OperationSucceeded")
	}
}

func TestRemoveUnknownResourceFails(t *testing.T) {
	d := startTestDriver(t)
	sess := attach(t, d)

	corrID := sess.NextCorrelationID()
	sess.Submit(Command{Kind: CommandRemovePublication, CorrelationID: corrID, ResourceID: 424242})

	cmdErr, ok := nextEvent(t, sess).(CommandError)
	if !ok || cmdErr.Code != ErrCodeUnknownResource {
		t.Fatalf("want unknown_resource CommandError, got %#v", cmdErr)
	}
}

func TestCounterLifecycleThroughDriver(t *testing.T) {
	d := startTestDriver(t)
	sess := attach(t, d)

	corrID := sess.NextCorrelationID()
	sess.Submit(Command{
		Kind:          CommandAddCounter,
		CorrelationID: corrID,
		CounterTypeID: 12,
		CounterLabel:  "my counter",
	})

	ready, ok := nextEvent(t, sess).(CounterReady)
	if !ok {
		t.Fatal("want CounterReady")
	}
	if ready.Slot.Label() != "my counter" {
		t.Errorf("label = %q", ready.Slot.Label())
	}
	ready.Slot.Set(7)
	if got := ready.Slot.Get(); got != 7 {
		t.Errorf("value = %d", got)
	}

	rmID := sess.NextCorrelationID()
	sess.Submit(Command{Kind: CommandRemoveCounter, CorrelationID: rmID, ResourceID: corrID})
	if _, ok := nextEvent(t, sess).(OperationSucceeded); !ok {
		t.Fatal("want OperationSucceeded")
	}
}

func TestDetachReleasesResources(t *testing.T) {
	d := startTestDriver(t)
	pubClient := attach(t, d)
	subClient := attach(t, d)

	addPublication(t, pubClient, channel.IPCChannel)
	addSubscription(t, subClient, channel.IPCChannel)
	if _, ok := nextEvent(t, subClient).(AvailableImage); !ok {
		t.Fatal("want AvailableImage")
	}

	pubClient.Detach()

	// The surviving subscriber observes the image going away.
	if _, ok := nextEvent(t, subClient).(UnavailableImage); !ok {
		t.Fatal("want UnavailableImage after publisher detach")
	}
}

func TestStopRejectsFurtherWork(t *testing.T) {
	cfg := config.Default().Driver
	cfg.Linger = time.Millisecond
	d, err := Start(cfg)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sess, err := d.Attach()
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	d.Stop()
	d.Stop() // idempotent

	if _, err := d.Attach(); err != ErrDriverClosed {
		t.Errorf("Attach after stop: err = %v", err)
	}
	if err := sess.Submit(Command{Kind: CommandAddPublication}); err != ErrDriverClosed {
		t.Errorf("Submit after stop: err = %v", err)
	}
}
