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

// Package driver implements the embedded transport agent. One duty-loop
// goroutine owns the stream registry, resolves client commands into log
// buffers, images and counters, and schedules linger expirations. Clients
// attach explicitly and talk to the driver over per-client command/event
// queues; a driver instance is never a hidden singleton.
package driver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/termbus/termbus/internal/config"
	"github.com/termbus/termbus/internal/logbuffer"
	"github.com/termbus/termbus/internal/obs"
)

// ErrDriverClosed reports an operation against a stopped driver.
var ErrDriverClosed = errors.New("driver: closed")

// internal command kind, reserved for client detach.
const commandDetachClient CommandKind = -1

type streamKey struct {
	channel  string
	streamID int32
}

type streamRec struct {
	sessions []*sessionRec
	subs     []*subRec
}

// sessionRec is one publisher session: a log buffer plus everyone reading it.
type sessionRec struct {
	key        streamKey
	sessionID  int32
	buffer     *logbuffer.Buffer
	termLength int32
	linger     time.Duration
	exclusive  bool
	refCount   int
	images     []*imageRec
	closed     bool
}

type pubRec struct {
	regID    int64
	clientID int64
	session  *sessionRec
}

type subRec struct {
	regID    int64
	clientID int64
	key      streamKey
	images   []*imageRec
}

type imageRec struct {
	id      int64
	session *sessionRec
	sub     *subRec
	reader  *logbuffer.ReaderPosition
}

type lingerEntry struct {
	deadline time.Time
	corrID   int64
	clientID int64
}

type clientRec struct {
	id       int64
	events   chan Event
	overflow []Event // duty-loop owned spill when events is full
}

// Driver is one embedded transport agent instance.
type Driver struct {
	cfg      config.DriverConfig
	instance string
	log      *zap.Logger
	metrics  *obs.DriverMetrics

	commands chan Command
	stop     chan struct{}
	done     chan struct{}

	ids idSource

	// guarded by muClients: accessed from Attach/Detach and the duty loop.
	muClients sync.Mutex
	clients   map[int64]*clientRec
	clientSeq int64

	// duty-loop owned registry state.
	streams      map[streamKey]*streamRec
	pubs         map[int64]*pubRec
	subs         map[int64]*subRec
	counters     *countersManager
	counterSlots map[int64]*CounterSlot
	lingers      []lingerEntry
	sessionSeq   int32
}

// Start launches a driver with the given configuration.
func Start(cfg config.DriverConfig) (*Driver, error) {
	if err := (config.Config{Driver: cfg, Client: config.Default().Client}).Validate(); err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:          cfg,
		instance:     uuid.NewString(),
		log:          obs.NewLogger("driver"),
		metrics:      obs.NewDriverMetrics(),
		commands:     make(chan Command, cfg.CommandQueueDepth),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		clients:      make(map[int64]*clientRec),
		streams:      make(map[streamKey]*streamRec),
		pubs:         make(map[int64]*pubRec),
		subs:         make(map[int64]*subRec),
		counters:     newCountersManager(cfg.MaxCounters),
		counterSlots: make(map[int64]*CounterSlot),
	}
	d.log = d.log.With(zap.String("instance", d.instance))

	go d.dutyLoop()
	d.log.Info("driver started",
		zap.Int32("term_length", cfg.TermLength),
		zap.Duration("linger", cfg.Linger))
	return d, nil
}

// InstanceID returns the driver's unique instance identity.
func (d *Driver) InstanceID() string { return d.instance }

// Metrics exposes the driver's metric set.
func (d *Driver) Metrics() *obs.DriverMetrics { return d.metrics }

// Stop shuts the driver down and waits for the duty loop to exit. Resources
// still registered are dropped without notifications.
func (d *Driver) Stop() {
	select {
	case <-d.stop:
		return
	default:
	}
	close(d.stop)
	<-d.done
	d.log.Info("driver stopped")
}

// idSource hands out driver-wide unique, monotonically increasing ids for
// registrations and images.
type idSource struct {
	seq atomic.Int64
}

func (s *idSource) next() int64 { return s.seq.Add(1) }

// ClientSession is one attached client's view of the driver.
type ClientSession struct {
	clientID int64
	events   chan Event
	d        *Driver
}

// Attach registers a client and returns its session endpoints.
func (d *Driver) Attach() (*ClientSession, error) {
	select {
	case <-d.stop:
		return nil, ErrDriverClosed
	default:
	}

	d.muClients.Lock()
	d.clientSeq++
	rec := &clientRec{
		id:     d.clientSeq,
		events: make(chan Event, d.cfg.CommandQueueDepth),
	}
	d.clients[rec.id] = rec
	d.muClients.Unlock()

	return &ClientSession{clientID: rec.id, events: rec.events, d: d}, nil
}

// ClientID returns the driver-assigned client identity.
func (s *ClientSession) ClientID() int64 { return s.clientID }

// Events is the ordered stream of driver events for this client.
func (s *ClientSession) Events() <-chan Event { return s.events }

// NextCorrelationID draws a fresh id from the driver-wide sequence. Ids are
// unique and immediately valid, before any command referencing them is even
// submitted.
func (s *ClientSession) NextCorrelationID() int64 { return s.d.ids.next() }

// Submit enqueues a command for the duty loop. It may briefly block when the
// command queue is full; callers are background conductors, never the
// application itself.
func (s *ClientSession) Submit(cmd Command) error {
	select {
	case <-s.d.stop:
		return ErrDriverClosed
	default:
	}

	cmd.ClientID = s.clientID
	select {
	case s.d.commands <- cmd:
		return nil
	case <-s.d.stop:
		return ErrDriverClosed
	}
}

// Detach releases every resource the client still holds. No further events
// are delivered.
func (s *ClientSession) Detach() {
	select {
	case s.d.commands <- Command{Kind: commandDetachClient, ClientID: s.clientID}:
	case <-s.d.stop:
	}
}

func (d *Driver) dutyLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.DutyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case cmd := <-d.commands:
			d.flushOverflow()
			d.onCommand(cmd)
		case <-ticker.C:
			d.flushOverflow()
			d.expireLingers(time.Now())
		}
	}
}

func (d *Driver) onCommand(cmd Command) {
	if cmd.Kind == commandDetachClient {
		d.detachClient(cmd.ClientID)
		return
	}

	d.metrics.CommandsTotal.WithLabelValues(cmd.Kind.String()).Inc()

	switch cmd.Kind {
	case CommandAddPublication:
		d.addPublication(cmd, false)
	case CommandAddExclusivePublication:
		d.addPublication(cmd, true)
	case CommandAddSubscription:
		d.addSubscription(cmd)
	case CommandAddCounter:
		d.addCounter(cmd)
	case CommandRemovePublication:
		d.removePublication(cmd)
	case CommandRemoveSubscription:
		d.removeSubscription(cmd)
	case CommandRemoveCounter:
		d.removeCounter(cmd)
	default:
		d.fail(cmd, ErrCodeMalformed, "unknown command kind")
	}
}

func (d *Driver) fail(cmd Command, code ErrorCode, message string) {
	d.metrics.ErrorsTotal.WithLabelValues(string(code)).Inc()
	d.log.Warn("command failed",
		zap.String("kind", cmd.Kind.String()),
		zap.Int64("correlation_id", cmd.CorrelationID),
		zap.String("code", string(code)),
		zap.String("message", message))
	d.route(cmd.ClientID, CommandError{CorrelationID: cmd.CorrelationID, Code: code, Message: message})
}

func (d *Driver) stream(key streamKey) *streamRec {
	st := d.streams[key]
	if st == nil {
		st = &streamRec{}
		d.streams[key] = st
	}
	return st
}

func (d *Driver) addPublication(cmd Command, exclusive bool) {
	key := streamKey{channel: cmd.URI.Canonical(), streamID: cmd.StreamID}
	termLength := cmd.URI.TermLength
	if termLength == 0 {
		termLength = d.cfg.TermLength
	}
	linger := cmd.URI.Linger
	if linger < 0 {
		linger = d.cfg.Linger
	}

	st := d.stream(key)

	var sess *sessionRec
	if !exclusive {
		for _, s := range st.sessions {
			if !s.exclusive && !s.closed {
				sess = s
				break
			}
		}
		if sess != nil && sess.termLength != termLength {
			d.fail(cmd, ErrCodeConflict,
				"term-length does not match the existing registration of this stream")
			return
		}
	}

	if sess == nil {
		d.sessionSeq++
		buf, err := logbuffer.NewBuffer(termLength, d.sessionSeq, cmd.StreamID)
		if err != nil {
			d.fail(cmd, ErrCodeMalformed, err.Error())
			return
		}
		sess = &sessionRec{
			key:        key,
			sessionID:  d.sessionSeq,
			buffer:     buf,
			termLength: termLength,
			linger:     linger,
			exclusive:  exclusive,
		}
		st.sessions = append(st.sessions, sess)
		d.metrics.ActiveStreams.Inc()

		for _, sub := range st.subs {
			d.createImage(sess, sub)
		}
	}

	sess.refCount++
	d.pubs[cmd.CorrelationID] = &pubRec{regID: cmd.CorrelationID, clientID: cmd.ClientID, session: sess}
	d.route(cmd.ClientID, PublicationReady{
		CorrelationID: cmd.CorrelationID,
		SessionID:     sess.sessionID,
		Buffer:        sess.buffer,
	})
	d.log.Debug("publication ready",
		zap.Int64("registration_id", cmd.CorrelationID),
		zap.Int32("session_id", sess.sessionID),
		zap.Int32("stream_id", cmd.StreamID),
		zap.Bool("exclusive", exclusive))
}

func (d *Driver) addSubscription(cmd Command) {
	key := streamKey{channel: cmd.URI.Canonical(), streamID: cmd.StreamID}
	st := d.stream(key)

	sub := &subRec{regID: cmd.CorrelationID, clientID: cmd.ClientID, key: key}
	st.subs = append(st.subs, sub)
	d.subs[cmd.CorrelationID] = sub

	d.route(cmd.ClientID, SubscriptionReady{CorrelationID: cmd.CorrelationID})

	for _, sess := range st.sessions {
		if !sess.closed {
			d.createImage(sess, sub)
		}
	}
	d.log.Debug("subscription ready",
		zap.Int64("registration_id", cmd.CorrelationID),
		zap.Int32("stream_id", cmd.StreamID))
}

func (d *Driver) createImage(sess *sessionRec, sub *subRec) {
	img := &imageRec{
		id:      d.ids.next(),
		session: sess,
		sub:     sub,
		reader:  sess.buffer.AttachReader(),
	}
	sess.images = append(sess.images, img)
	sub.images = append(sub.images, img)
	d.metrics.ImagesCreated.Inc()

	d.route(sub.clientID, AvailableImage{
		SubscriptionID: sub.regID,
		ImageID:        img.id,
		SessionID:      sess.sessionID,
		Buffer:         sess.buffer,
		Reader:         img.reader,
		SourceIdentity: sess.key.channel,
	})
}

func (d *Driver) addCounter(cmd Command) {
	slot, err := d.counters.allocate(cmd.CounterTypeID, cmd.CounterLabel)
	if err != nil {
		code := ErrCodeResourceLimit
		if errors.Is(err, ErrLabelTooLong) {
			code = ErrCodeMalformed
		}
		d.fail(cmd, code, err.Error())
		return
	}
	d.counterSlots[cmd.CorrelationID] = slot
	d.metrics.CountersActive.Set(float64(d.counters.active()))

	d.route(cmd.ClientID, CounterReady{
		CorrelationID: cmd.CorrelationID,
		CounterID:     slot.ID(),
		Slot:          slot,
	})
}

func (d *Driver) removePublication(cmd Command) {
	pub := d.pubs[cmd.ResourceID]
	if pub == nil || pub.clientID != cmd.ClientID {
		d.fail(cmd, ErrCodeUnknownResource, "no such publication registration")
		return
	}
	delete(d.pubs, cmd.ResourceID)

	sess := pub.session
	sess.refCount--
	linger := time.Duration(0)
	if sess.refCount == 0 {
		d.closeSession(sess, true)
		linger = sess.linger
	}
	d.scheduleCompletion(cmd.ClientID, cmd.CorrelationID, linger)
}

// closeSession tears a session down: the buffer closes for writing, every
// image goes unavailable exactly once, readers detach.
func (d *Driver) closeSession(sess *sessionRec, notify bool) {
	if sess.closed {
		return
	}
	sess.closed = true
	sess.buffer.Close()

	for _, img := range sess.images {
		sess.buffer.DetachReader(img.reader)
		img.sub.images = removeImageRec(img.sub.images, img)
		if notify {
			d.route(img.sub.clientID, UnavailableImage{
				SubscriptionID: img.sub.regID,
				ImageID:        img.id,
			})
		}
	}
	sess.images = nil

	if st := d.streams[sess.key]; st != nil {
		st.sessions = removeSessionRec(st.sessions, sess)
	}
	d.metrics.ActiveStreams.Dec()
	d.log.Debug("session closed",
		zap.Int32("session_id", sess.sessionID),
		zap.Int32("stream_id", sess.key.streamID))
}

func (d *Driver) removeSubscription(cmd Command) {
	sub := d.subs[cmd.ResourceID]
	if sub == nil || sub.clientID != cmd.ClientID {
		d.fail(cmd, ErrCodeUnknownResource, "no such subscription registration")
		return
	}
	delete(d.subs, cmd.ResourceID)

	for _, img := range sub.images {
		img.session.buffer.DetachReader(img.reader)
		img.session.images = removeImageRec(img.session.images, img)
		d.route(sub.clientID, UnavailableImage{
			SubscriptionID: sub.regID,
			ImageID:        img.id,
		})
	}
	sub.images = nil

	if st := d.streams[sub.key]; st != nil {
		st.subs = removeSubRec(st.subs, sub)
	}
	d.scheduleCompletion(cmd.ClientID, cmd.CorrelationID, 0)
}

func (d *Driver) removeCounter(cmd Command) {
	slot := d.counterSlots[cmd.ResourceID]
	if slot == nil {
		d.fail(cmd, ErrCodeUnknownResource, "no such counter registration")
		return
	}
	delete(d.counterSlots, cmd.ResourceID)
	if err := d.counters.release(slot.ID()); err != nil {
		d.fail(cmd, ErrCodeUnknownResource, err.Error())
		return
	}
	d.metrics.CountersActive.Set(float64(d.counters.active()))
	d.scheduleCompletion(cmd.ClientID, cmd.CorrelationID, 0)
}

// detachClient drops everything a closing client still holds. The client is
// gone, so nothing is sent to it; other clients still see unavailable images.
func (d *Driver) detachClient(clientID int64) {
	for regID, pub := range d.pubs {
		if pub.clientID != clientID {
			continue
		}
		delete(d.pubs, regID)
		pub.session.refCount--
		if pub.session.refCount == 0 {
			d.closeSession(pub.session, true)
		}
	}
	for regID, sub := range d.subs {
		if sub.clientID != clientID {
			continue
		}
		delete(d.subs, regID)
		for _, img := range sub.images {
			img.session.buffer.DetachReader(img.reader)
			img.session.images = removeImageRec(img.session.images, img)
		}
		sub.images = nil
		if st := d.streams[sub.key]; st != nil {
			st.subs = removeSubRec(st.subs, sub)
		}
	}

	d.muClients.Lock()
	delete(d.clients, clientID)
	d.muClients.Unlock()
	d.log.Debug("client detached", zap.Int64("client_id", clientID))
}

func (d *Driver) scheduleCompletion(clientID, corrID int64, linger time.Duration) {
	if linger <= 0 {
		d.route(clientID, OperationSucceeded{CorrelationID: corrID})
		return
	}
	d.lingers = append(d.lingers, lingerEntry{
		deadline: time.Now().Add(linger),
		corrID:   corrID,
		clientID: clientID,
	})
}

func (d *Driver) expireLingers(now time.Time) {
	if len(d.lingers) == 0 {
		return
	}
	remaining := d.lingers[:0]
	for _, entry := range d.lingers {
		if now.Before(entry.deadline) {
			remaining = append(remaining, entry)
			continue
		}
		d.metrics.LingersExpired.Inc()
		d.route(entry.clientID, OperationSucceeded{CorrelationID: entry.corrID})
	}
	d.lingers = remaining
}

// route delivers an event to a client without ever blocking the duty loop:
// when the client's queue is full the event spills into an overflow the loop
// retries, preserving per-client ordering.
func (d *Driver) route(clientID int64, ev Event) {
	d.muClients.Lock()
	rec := d.clients[clientID]
	d.muClients.Unlock()
	if rec == nil {
		return
	}

	if len(rec.overflow) == 0 {
		select {
		case rec.events <- ev:
			return
		default:
		}
	}
	rec.overflow = append(rec.overflow, ev)
}

func (d *Driver) flushOverflow() {
	d.muClients.Lock()
	recs := make([]*clientRec, 0, len(d.clients))
	for _, rec := range d.clients {
		recs = append(recs, rec)
	}
	d.muClients.Unlock()

	for _, rec := range recs {
		rec.drainOverflow()
	}
}

// drainOverflow moves spilled events into the client channel until it
// fills again; remaining events wait for the next duty cycle.
func (rec *clientRec) drainOverflow() {
	for len(rec.overflow) > 0 {
		select {
		case rec.events <- rec.overflow[0]:
			rec.overflow = rec.overflow[1:]
		default:
			return
		}
	}
}

func removeImageRec(images []*imageRec, target *imageRec) []*imageRec {
	out := images[:0]
	for _, img := range images {
		if img != target {
			out = append(out, img)
		}
	}
	return out
}

func removeSessionRec(sessions []*sessionRec, target *sessionRec) []*sessionRec {
	out := sessions[:0]
	for _, s := range sessions {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func removeSubRec(subs []*subRec, target *subRec) []*subRec {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
