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
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/termbus/termbus/internal/channel"
	"github.com/termbus/termbus/internal/config"
	"github.com/termbus/termbus/internal/driver"
	"github.com/termbus/termbus/internal/obs"
)

// CloseHandler is invoked exactly once when an asynchronous close completes,
// after driver-side teardown and any configured linger. A nil handler is
// valid and suppresses the notification.
type CloseHandler func(clientd any)

// ImageHandler is invoked by the conductor when an image becomes available
// or unavailable, with the opaque value supplied at subscription time.
type ImageHandler func(clientd any, img *Image)

// pendingOp is one command awaiting its driver completion.
type pendingOp struct {
	kind     driver.CommandKind
	res      *asyncResult // adds only
	deadline time.Time

	channel  string
	streamID int32
	sub      *Subscription // add subscription: resolved resource

	// removes only.
	resourceID int64
	onComplete CloseHandler
	clientd    any
}

// Client is one attached application endpoint. All registration work is
// asynchronous: AsyncAdd* submits a command and returns a single-owner
// handle; the conductor goroutine resolves it in the background.
type Client struct {
	sess *driver.ClientSession
	cfg  config.ClientConfig
	log  *zap.Logger

	mu      sync.Mutex
	pending map[int64]*pendingOp
	subs    map[int64]*Subscription
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// Connect attaches a new client to the driver and starts its conductor.
func Connect(drv *Driver) (*Client, error) {
	sess, err := drv.inner.Attach()
	if err != nil {
		return nil, fmt.Errorf("termbus: connect: %w", err)
	}

	c := &Client{
		sess:    sess,
		cfg:     drv.clientCfg,
		log:     obs.NewLogger("conductor").With(zap.Int64("client_id", sess.ClientID())),
		pending: make(map[int64]*pendingOp),
		subs:    make(map[int64]*Subscription),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	c.log.Debug("client connected")
	return c, nil
}

// ClientID returns the driver-assigned client identity.
func (c *Client) ClientID() int64 { return c.sess.ClientID() }

// Close stops the conductor and releases every resource this client still
// holds at the driver. Pending async handles fail with ErrClientClosed;
// close callbacks not yet fired are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stale := c.pending
	c.pending = make(map[int64]*pendingOp)
	c.mu.Unlock()

	close(c.stop)
	<-c.done

	for _, op := range stale {
		if op.res != nil {
			op.res.fail(ErrClientClosed)
		}
	}
	c.sess.Detach()
	c.log.Debug("client closed")
	return nil
}

// register stores op under a fresh correlation id and submits cmd. The id is
// assigned before submission, so it is valid the moment this returns.
func (c *Client) register(cmd driver.Command, op *pendingOp) (int64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClientClosed
	}
	corrID := c.sess.NextCorrelationID()
	op.deadline = time.Now().Add(c.cfg.DriverTimeout)
	c.pending[corrID] = op
	c.mu.Unlock()

	cmd.CorrelationID = corrID
	if err := c.sess.Submit(cmd); err != nil {
		c.mu.Lock()
		delete(c.pending, corrID)
		c.mu.Unlock()
		return 0, fmt.Errorf("termbus: submit %s: %w", cmd.Kind, err)
	}
	return corrID, nil
}

// AsyncAddPublication submits the registration of a shared publication on
// the channel and stream. A malformed channel fails synchronously; all other
// failures surface through the returned handle.
func (c *Client) AsyncAddPublication(ch string, streamID int32) (*AsyncAddPublication, error) {
	uri, err := channel.Parse(ch)
	if err != nil {
		return nil, err
	}
	op := &pendingOp{
		kind:     driver.CommandAddPublication,
		res:      &asyncResult{},
		channel:  ch,
		streamID: streamID,
	}
	regID, err := c.register(driver.Command{
		Kind:     driver.CommandAddPublication,
		URI:      uri,
		StreamID: streamID,
	}, op)
	if err != nil {
		return nil, err
	}
	return &AsyncAddPublication{regID: regID, res: op.res}, nil
}

// AsyncAddExclusivePublication submits the registration of a publication
// with its own session and log buffer, never shared with other adds.
func (c *Client) AsyncAddExclusivePublication(ch string, streamID int32) (*AsyncAddExclusivePublication, error) {
	uri, err := channel.Parse(ch)
	if err != nil {
		return nil, err
	}
	op := &pendingOp{
		kind:     driver.CommandAddExclusivePublication,
		res:      &asyncResult{},
		channel:  ch,
		streamID: streamID,
	}
	regID, err := c.register(driver.Command{
		Kind:     driver.CommandAddExclusivePublication,
		URI:      uri,
		StreamID: streamID,
	}, op)
	if err != nil {
		return nil, err
	}
	return &AsyncAddExclusivePublication{regID: regID, res: op.res}, nil
}

// AsyncAddSubscription submits the registration of a subscription. The image
// handlers, either of which may be nil, are invoked by the conductor with
// their opaque values as publishers come and go.
func (c *Client) AsyncAddSubscription(ch string, streamID int32,
	onAvailable ImageHandler, availableClientd any,
	onUnavailable ImageHandler, unavailableClientd any,
) (*AsyncAddSubscription, error) {
	uri, err := channel.Parse(ch)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		client:             c,
		channel:            ch,
		streamID:           streamID,
		onAvailable:        onAvailable,
		availableClientd:   availableClientd,
		onUnavailable:      onUnavailable,
		unavailableClientd: unavailableClientd,
	}
	sub.images.Store([]*Image{})

	op := &pendingOp{
		kind:     driver.CommandAddSubscription,
		res:      &asyncResult{},
		channel:  ch,
		streamID: streamID,
		sub:      sub,
	}
	regID, err := c.register(driver.Command{
		Kind:     driver.CommandAddSubscription,
		URI:      uri,
		StreamID: streamID,
	}, op)
	if err != nil {
		return nil, err
	}
	sub.regID = regID
	return &AsyncAddSubscription{regID: regID, res: op.res}, nil
}

// AsyncAddCounter submits the registration of a counter with an opaque key
// and a bounded label, both stored verbatim.
func (c *Client) AsyncAddCounter(typeID int32, key []byte, label string) (*AsyncAddCounter, error) {
	op := &pendingOp{kind: driver.CommandAddCounter, res: &asyncResult{}}
	regID, err := c.register(driver.Command{
		Kind:          driver.CommandAddCounter,
		CounterTypeID: typeID,
		CounterKey:    key,
		CounterLabel:  label,
	}, op)
	if err != nil {
		return nil, err
	}
	return &AsyncAddCounter{regID: regID, res: op.res}, nil
}

// submitClose schedules the asynchronous teardown of a resource. The
// completion callback fires from the conductor goroutine after the driver
// confirms teardown plus linger.
func (c *Client) submitClose(kind driver.CommandKind, resourceID int64, onComplete CloseHandler, clientd any) error {
	op := &pendingOp{
		kind:       kind,
		resourceID: resourceID,
		onComplete: onComplete,
		clientd:    clientd,
	}
	_, err := c.register(driver.Command{Kind: kind, ResourceID: resourceID}, op)
	return err
}
