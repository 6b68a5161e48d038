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
	"time"

	"go.uber.org/zap"

	"github.com/termbus/termbus/internal/driver"
)

// run is the conductor: one background duty goroutine per client owning all
// interaction with the driver. It resolves pending commands into handles,
// advances image lifecycle, and fires close and unavailable notifications.
// Application-facing calls never run here and never block on it.
func (c *Client) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.DutyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case ev := <-c.sess.Events():
			c.onEvent(ev)
		case <-ticker.C:
			c.expirePending(time.Now())
		}
	}
}

func (c *Client) takePending(corrID int64) *pendingOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	op := c.pending[corrID]
	if op != nil {
		delete(c.pending, corrID)
	}
	return op
}

func (c *Client) subscriptionFor(regID int64) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[regID]
}

func (c *Client) onEvent(ev driver.Event) {
	switch e := ev.(type) {
	case driver.PublicationReady:
		op := c.takePending(e.CorrelationID)
		if op == nil {
			return
		}
		if op.kind == driver.CommandAddExclusivePublication {
			p := &ExclusivePublication{}
			p.init(c, op.channel, op.streamID, e.SessionID, e.CorrelationID, e.Buffer)
			op.res.complete(p)
		} else {
			p := &Publication{}
			p.init(c, op.channel, op.streamID, e.SessionID, e.CorrelationID, e.Buffer)
			op.res.complete(p)
		}

	case driver.SubscriptionReady:
		op := c.takePending(e.CorrelationID)
		if op == nil || op.sub == nil {
			return
		}
		c.mu.Lock()
		c.subs[e.CorrelationID] = op.sub
		c.mu.Unlock()
		op.res.complete(op.sub)

	case driver.AvailableImage:
		sub := c.subscriptionFor(e.SubscriptionID)
		if sub == nil {
			return
		}
		img := newImage(e.ImageID, e.SessionID, e.SourceIdentity, e.Buffer, e.Reader)
		sub.addImage(img)
		if sub.onAvailable != nil {
			sub.onAvailable(sub.availableClientd, img)
		}

	case driver.UnavailableImage:
		sub := c.subscriptionFor(e.SubscriptionID)
		if sub == nil {
			return
		}
		img := sub.retireImage(e.ImageID)
		if img == nil {
			return // already retired; unavailable fires at most once
		}
		if sub.onUnavailable != nil {
			sub.onUnavailable(sub.unavailableClientd, img)
		}

	case driver.CounterReady:
		op := c.takePending(e.CorrelationID)
		if op == nil {
			return
		}
		op.res.complete(&Counter{client: c, regID: e.CorrelationID, slot: e.Slot})

	case driver.OperationSucceeded:
		op := c.takePending(e.CorrelationID)
		if op == nil {
			return
		}
		if op.kind == driver.CommandRemoveSubscription {
			c.mu.Lock()
			delete(c.subs, op.resourceID)
			c.mu.Unlock()
		}
		if op.onComplete != nil {
			op.onComplete(op.clientd)
		}

	case driver.CommandError:
		op := c.takePending(e.CorrelationID)
		if op == nil {
			return
		}
		if op.res != nil {
			op.res.fail(&RegistrationError{Code: string(e.Code), Message: e.Message})
			return
		}
		// Close is fire-and-forget; the completion still fires once.
		c.log.Warn("close rejected by driver",
			zap.Int64("resource_id", op.resourceID),
			zap.String("code", string(e.Code)),
			zap.String("message", e.Message))
		if op.onComplete != nil {
			op.onComplete(op.clientd)
		}
	}
}

// expirePending fails commands the driver never resolved in time.
func (c *Client) expirePending(now time.Time) {
	var expired []*pendingOp
	c.mu.Lock()
	for corrID, op := range c.pending {
		if now.After(op.deadline) {
			delete(c.pending, corrID)
			expired = append(expired, op)
		}
	}
	c.mu.Unlock()

	for _, op := range expired {
		c.log.Warn("command timed out", zap.String("kind", op.kind.String()))
		if op.res != nil {
			op.res.fail(fmt.Errorf("%w: %s unresolved", ErrDriverTimeout, op.kind))
			continue
		}
		if op.onComplete != nil {
			op.onComplete(op.clientd)
		}
	}
}
