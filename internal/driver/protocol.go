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
	"github.com/termbus/termbus/internal/channel"
	"github.com/termbus/termbus/internal/logbuffer"
)

// CommandKind discriminates client commands.
type CommandKind int

const (
	CommandAddPublication CommandKind = iota
	CommandAddExclusivePublication
	CommandAddSubscription
	CommandAddCounter
	CommandRemovePublication
	CommandRemoveSubscription
	CommandRemoveCounter
)

func (k CommandKind) String() string {
	switch k {
	case CommandAddPublication:
		return "add_publication"
	case CommandAddExclusivePublication:
		return "add_exclusive_publication"
	case CommandAddSubscription:
		return "add_subscription"
	case CommandAddCounter:
		return "add_counter"
	case CommandRemovePublication:
		return "remove_publication"
	case CommandRemoveSubscription:
		return "remove_subscription"
	case CommandRemoveCounter:
		return "remove_counter"
	}
	return "unknown"
}

// Command is one client request to the driver. CorrelationID doubles as the
// registration id of the resource an add command creates.
type Command struct {
	Kind          CommandKind
	ClientID      int64
	CorrelationID int64

	// Add publication / subscription.
	URI      channel.URI
	StreamID int32

	// Add counter.
	CounterTypeID int32
	CounterLabel  string
	CounterKey    []byte

	// Remove commands name the resource by its registration id.
	ResourceID int64
}

// ErrorCode classifies async registration failures.
type ErrorCode string

const (
	ErrCodeConflict        ErrorCode = "conflict"
	ErrCodeResourceLimit   ErrorCode = "resource_limit"
	ErrCodeMalformed       ErrorCode = "malformed"
	ErrCodeUnknownResource ErrorCode = "unknown_resource"
)

// Event is a driver-to-client completion or lifecycle notification. Events
// for one client are delivered in the order the driver produced them.
type Event interface{ isEvent() }

// PublicationReady resolves an add publication command.
type PublicationReady struct {
	CorrelationID int64
	SessionID     int32
	Buffer        *logbuffer.Buffer
}

// SubscriptionReady resolves an add subscription command.
type SubscriptionReady struct {
	CorrelationID int64
}

// AvailableImage announces a publisher session now visible to a subscription.
type AvailableImage struct {
	SubscriptionID int64
	ImageID        int64
	SessionID      int32
	Buffer         *logbuffer.Buffer
	Reader         *logbuffer.ReaderPosition
	SourceIdentity string
}

// UnavailableImage announces the end of an image's data path.
type UnavailableImage struct {
	SubscriptionID int64
	ImageID        int64
}

// CounterReady resolves an add counter command.
type CounterReady struct {
	CorrelationID int64
	CounterID     int32
	Slot          *CounterSlot
}

// OperationSucceeded resolves a remove command once driver-side teardown and
// linger have elapsed.
type OperationSucceeded struct {
	CorrelationID int64
}

// CommandError terminates a command with a driver-reported reason.
type CommandError struct {
	CorrelationID int64
	Code          ErrorCode
	Message       string
}

func (PublicationReady) isEvent()   {}
func (SubscriptionReady) isEvent()  {}
func (AvailableImage) isEvent()     {}
func (UnavailableImage) isEvent()   {}
func (CounterReady) isEvent()       {}
func (OperationSucceeded) isEvent() {}
func (CommandError) isEvent()       {}
