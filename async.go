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

import "sync"

// asyncResult tracks one pending registration from submission to its single
// terminal poll. The conductor completes or fails it; the owning goroutine
// polls it. One logical owner per handle.
type asyncResult struct {
	mu    sync.Mutex
	done  bool
	taken bool
	err   error
	value any
}

func (r *asyncResult) complete(v any) {
	r.mu.Lock()
	r.done = true
	r.value = v
	r.mu.Unlock()
}

func (r *asyncResult) fail(err error) {
	r.mu.Lock()
	r.done = true
	r.err = err
	r.mu.Unlock()
}

// take returns (value, err, true) once, (nil, nil, false) while pending, and
// (nil, ErrAsyncConsumed, true) on every poll after the terminal one.
func (r *asyncResult) take() (any, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return nil, nil, false
	}
	if r.taken {
		return nil, ErrAsyncConsumed, true
	}
	r.taken = true
	return r.value, r.err, true
}

// AsyncAddPublication is the in-flight registration of a Publication.
type AsyncAddPublication struct {
	regID int64
	res   *asyncResult
}

// RegistrationID is the id of the resource being registered, valid from the
// moment the add was submitted.
func (a *AsyncAddPublication) RegistrationID() int64 { return a.regID }

// Poll returns (nil, nil) while pending, the publication once resolved, or
// the registration failure. A terminal result consumes the handle.
func (a *AsyncAddPublication) Poll() (*Publication, error) {
	v, err, done := a.res.take()
	if !done || err != nil {
		return nil, err
	}
	return v.(*Publication), nil
}

// AsyncAddExclusivePublication is the in-flight registration of an
// ExclusivePublication.
type AsyncAddExclusivePublication struct {
	regID int64
	res   *asyncResult
}

// RegistrationID is the id of the resource being registered, valid from the
// moment the add was submitted.
func (a *AsyncAddExclusivePublication) RegistrationID() int64 { return a.regID }

// Poll returns (nil, nil) while pending, the publication once resolved, or
// the registration failure. A terminal result consumes the handle.
func (a *AsyncAddExclusivePublication) Poll() (*ExclusivePublication, error) {
	v, err, done := a.res.take()
	if !done || err != nil {
		return nil, err
	}
	return v.(*ExclusivePublication), nil
}

// AsyncAddSubscription is the in-flight registration of a Subscription.
type AsyncAddSubscription struct {
	regID int64
	res   *asyncResult
}

// RegistrationID is the id of the resource being registered, valid from the
// moment the add was submitted.
func (a *AsyncAddSubscription) RegistrationID() int64 { return a.regID }

// Poll returns (nil, nil) while pending, the subscription once resolved, or
// the registration failure. A terminal result consumes the handle.
func (a *AsyncAddSubscription) Poll() (*Subscription, error) {
	v, err, done := a.res.take()
	if !done || err != nil {
		return nil, err
	}
	return v.(*Subscription), nil
}

// AsyncAddCounter is the in-flight registration of a Counter.
type AsyncAddCounter struct {
	regID int64
	res   *asyncResult
}

// RegistrationID is the id of the resource being registered, valid from the
// moment the add was submitted.
func (a *AsyncAddCounter) RegistrationID() int64 { return a.regID }

// Poll returns (nil, nil) while pending, the counter once resolved, or the
// registration failure. A terminal result consumes the handle.
func (a *AsyncAddCounter) Poll() (*Counter, error) {
	v, err, done := a.res.take()
	if !done || err != nil {
		return nil, err
	}
	return v.(*Counter), nil
}
