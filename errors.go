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
	"errors"
	"fmt"

	"github.com/termbus/termbus/internal/logbuffer"
)

var (
	// ErrAsyncConsumed reports a poll on an async handle that already
	// yielded its terminal result.
	ErrAsyncConsumed = errors.New("termbus: async handle already consumed")
	// ErrClientClosed reports an operation on a closed client.
	ErrClientClosed = errors.New("termbus: client closed")
	// ErrDriverTimeout reports a command the driver never resolved within
	// the configured driver timeout.
	ErrDriverTimeout = errors.New("termbus: driver timeout")
)

// RegistrationError is the terminal failure of an asynchronous add,
// carrying the driver's error code and message.
type RegistrationError struct {
	Code    string
	Message string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("termbus: registration failed (%s): %s", e.Code, e.Message)
}

// Offer results. A non-negative value is the stream position after the
// offered frame; these sentinels are the only negative values.
const (
	// NotConnected: no image is attached to the stream.
	NotConnected = logbuffer.NotConnected
	// BackPressured: the flow-control window is exhausted; retryable.
	BackPressured = logbuffer.BackPressured
	// AdminAction: housekeeping such as term rotation ran; retryable.
	AdminAction = logbuffer.AdminAction
	// PublicationClosed: the publication was closed; terminal.
	PublicationClosed = logbuffer.Closed
	// MaxPositionExceeded: the stream exhausted its position space.
	MaxPositionExceeded = logbuffer.MaxPositionExceeded
	// MessageTooLarge: the payload exceeds MaxMessageLength.
	MessageTooLarge = logbuffer.MessageTooLarge
)

// IsRetryableOffer reports whether an offer result is a transient condition
// worth retrying, as opposed to success or a terminal failure.
func IsRetryableOffer(result int64) bool {
	return result == BackPressured || result == AdminAction
}
