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

// Package logbuffer implements the term-structured log buffer carrying one
// stream's frames. A buffer is a fixed set of equally sized terms written in
// rotation. One or more writers claim space with an atomic tail counter and
// commit frames by publishing the frame length last; readers follow with
// their own monotonic positions. Writers and readers coordinate through
// position comparison alone, no locks on the data path.
package logbuffer

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	// PartitionCount is the number of terms a buffer rotates through.
	PartitionCount = 3

	// TermMinLength is the smallest accepted term length.
	TermMinLength = 4 * 1024

	// TermMaxLength is the largest accepted term length.
	TermMaxLength = 1 << 30

	// TermDefaultLength applies when a channel does not override term-length.
	TermDefaultLength = 64 * 1024
)

// Offer results. Non-negative values are stream positions; these sentinels
// are the only negative values Offer returns.
const (
	// NotConnected: no reader is attached to the stream.
	NotConnected int64 = -1
	// BackPressured: the flow-control window is exhausted; retry later.
	BackPressured int64 = -2
	// AdminAction: the buffer performed housekeeping (term rotation); retry.
	AdminAction int64 = -3
	// Closed: the buffer was closed; the offer can never succeed.
	Closed int64 = -4
	// MaxPositionExceeded: the stream reached the end of its position space.
	MaxPositionExceeded int64 = -5
	// MessageTooLarge: the payload exceeds the maximum message length.
	MessageTooLarge int64 = -6
)

// ErrTermLength reports an invalid term length at buffer creation.
var ErrTermLength = errors.New("logbuffer: term length must be a power of two within bounds")

type metaData struct {
	// rawTail packs termID<<32 | tailOffset per partition. The tail offset
	// may exceed the term length transiently while writers race rotation.
	rawTail [PartitionCount]atomic.Int64

	// activeTermCount publishes the current rotation count. It is bumped
	// only after the incoming partition has been zeroed, which is what lets
	// readers trust any committed frame they find there.
	activeTermCount atomic.Int32
}

// Buffer is the transport memory for one stream session.
type Buffer struct {
	termLength       int32
	positionBits     uint8
	maxMessageLength int32
	maxPosition      int64
	sessionID        int32
	streamID         int32

	terms [PartitionCount][]byte
	meta  metaData

	readersMu sync.Mutex   // guards copy-on-write of readers
	readers   atomic.Value // []*ReaderPosition

	closed atomic.Bool
}

// ReaderPosition is one reader's monotonic consume position within a buffer.
// The reader owns advancing it; the writer only compares against it.
type ReaderPosition struct {
	pos atomic.Int64
}

// Get returns the reader's current position.
func (r *ReaderPosition) Get() int64 { return r.pos.Load() }

// Set publishes the reader's new position. It must never go backwards.
func (r *ReaderPosition) Set(position int64) { r.pos.Store(position) }

// NewBuffer allocates a buffer with the given term length for one stream
// session. Term length must be a power of two in [TermMinLength,
// TermMaxLength]; term count is fixed at PartitionCount.
func NewBuffer(termLength, sessionID, streamID int32) (*Buffer, error) {
	if termLength < TermMinLength || termLength > TermMaxLength || termLength&(termLength-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrTermLength, termLength)
	}

	b := &Buffer{
		termLength:       termLength,
		positionBits:     uint8(bits.TrailingZeros32(uint32(termLength))),
		maxMessageLength: termLength / 8,
		sessionID:        sessionID,
		streamID:         streamID,
	}
	b.maxPosition = int64(termLength) << 31
	for i := range b.terms {
		b.terms[i] = make([]byte, termLength)
	}
	b.readers.Store([]*ReaderPosition{})
	return b, nil
}

// TermLength returns the fixed per-term length in bytes.
func (b *Buffer) TermLength() int32 { return b.termLength }

// Capacity returns the total buffer capacity across all terms.
func (b *Buffer) Capacity() int64 { return int64(b.termLength) * PartitionCount }

// MaxMessageLength returns the largest payload a single offer accepts.
func (b *Buffer) MaxMessageLength() int32 { return b.maxMessageLength }

// SessionID returns the writer session this buffer belongs to.
func (b *Buffer) SessionID() int32 { return b.sessionID }

// StreamID returns the stream this buffer carries.
func (b *Buffer) StreamID() int32 { return b.streamID }

// AttachReader registers a new reader starting at the current producer
// position and returns its position counter.
func (b *Buffer) AttachReader() *ReaderPosition {
	b.readersMu.Lock()
	defer b.readersMu.Unlock()

	r := &ReaderPosition{}
	r.pos.Store(b.Position())
	old := b.readers.Load().([]*ReaderPosition)
	next := make([]*ReaderPosition, len(old), len(old)+1)
	copy(next, old)
	b.readers.Store(append(next, r))
	return r
}

// DetachReader removes a reader; its position no longer limits the writer.
func (b *Buffer) DetachReader(r *ReaderPosition) {
	b.readersMu.Lock()
	defer b.readersMu.Unlock()

	old := b.readers.Load().([]*ReaderPosition)
	next := make([]*ReaderPosition, 0, len(old))
	for _, existing := range old {
		if existing != r {
			next = append(next, existing)
		}
	}
	b.readers.Store(next)
}

// IsConnected reports whether at least one reader is attached.
func (b *Buffer) IsConnected() bool {
	return len(b.readers.Load().([]*ReaderPosition)) > 0
}

// Close marks the buffer closed for writing. Readers may drain what was
// already committed.
func (b *Buffer) Close() { b.closed.Store(true) }

// IsClosed reports whether the buffer was closed for writing.
func (b *Buffer) IsClosed() bool { return b.closed.Load() }

// Position returns the producer position: the stream position the next
// committed frame would start at.
func (b *Buffer) Position() int64 {
	termCount := b.meta.activeTermCount.Load()
	raw := b.meta.rawTail[int(termCount)%PartitionCount].Load()
	offset := raw & 0xFFFFFFFF
	if offset > int64(b.termLength) {
		offset = int64(b.termLength)
	}
	return int64(termCount)<<b.positionBits + offset
}

// limit returns the current flow-control bound: the slowest reader's
// position plus one term window. Writers past it are back-pressured, which
// is also what keeps a term from being rewritten before every reader has
// advanced beyond it.
func (b *Buffer) limit() int64 {
	readers := b.readers.Load().([]*ReaderPosition)
	if len(readers) == 0 {
		return 0
	}
	minPos := readers[0].Get()
	for _, r := range readers[1:] {
		if p := r.Get(); p < minPos {
			minPos = p
		}
	}
	return minPos + int64(b.termLength)
}

// Offer appends payload as a single frame. It never blocks and never
// partially succeeds. A non-negative result is the stream position after the
// frame; negative results are the sentinels above, of which BackPressured and
// AdminAction are transient.
func (b *Buffer) Offer(payload []byte) int64 {
	if b.closed.Load() {
		return Closed
	}
	if int32(len(payload)) > b.maxMessageLength {
		return MessageTooLarge
	}
	readers := b.readers.Load().([]*ReaderPosition)
	if len(readers) == 0 {
		return NotConnected
	}

	termCount := b.meta.activeTermCount.Load()
	index := int(termCount) % PartitionCount
	raw := b.meta.rawTail[index].Load()
	termID := int32(raw >> 32)
	if termID != termCount {
		// A rotation is mid-flight; let it finish.
		return AdminAction
	}
	termOffset := raw & 0xFFFFFFFF
	position := int64(termCount)<<b.positionBits + termOffset

	if position >= b.maxPosition {
		return MaxPositionExceeded
	}
	if position >= b.limit() {
		return BackPressured
	}

	frameLength := int32(len(payload)) + FrameHeaderLength
	alignedLength := AlignFrameLength(frameLength)

	newRaw := b.meta.rawTail[index].Add(int64(alignedLength))
	claimedOffset := int32((newRaw & 0xFFFFFFFF)) - alignedLength

	if claimedOffset+alignedLength > b.termLength {
		b.handleEndOfTerm(termCount, termID, index, claimedOffset)
		return AdminAction
	}

	term := b.terms[index]
	writeFrameHeader(term, claimedOffset, FrameTypeData, FrameFlagUnfragmented,
		claimedOffset, b.sessionID, b.streamID, termID)
	copy(term[claimedOffset+FrameHeaderLength:], payload)
	frameLengthOrdered(term, claimedOffset, frameLength)

	return int64(termCount)<<b.positionBits + int64(claimedOffset) + int64(alignedLength)
}

// handleEndOfTerm is run by writers whose claim overran the term. Exactly one
// claim per term either straddles the boundary or starts exactly on it; that
// claim performs the rotation and writes the padding frame. All other
// overrunning claims retry once the new term is published.
func (b *Buffer) handleEndOfTerm(termCount, termID int32, index int, claimedOffset int32) {
	if claimedOffset > b.termLength {
		return // a later claim in the same exhausted term; nothing to do
	}

	nextTermCount := termCount + 1
	nextIndex := int(nextTermCount) % PartitionCount
	nextTermID := termID + 1

	// Recycle the partition two terms back. Flow control guarantees every
	// reader is already past it, so zeroing cannot race a read of live data.
	nextRaw := b.meta.rawTail[nextIndex].Load()
	if int32(nextRaw>>32) != nextTermID {
		clear(b.terms[nextIndex])
		b.meta.rawTail[nextIndex].Store(int64(nextTermID) << 32)
	}

	// Publish the rotation only after the partition is clean.
	b.meta.activeTermCount.CompareAndSwap(termCount, nextTermCount)

	// Pad the unusable tail so readers skip straight to the next term. The
	// pad commit comes last: a reader crossing the boundary can then only
	// observe the already-published rotation.
	if claimedOffset < b.termLength {
		term := b.terms[index]
		writeFrameHeader(term, claimedOffset, FrameTypePadding, FrameFlagUnfragmented,
			claimedOffset, b.sessionID, b.streamID, termID)
		frameLengthOrdered(term, claimedOffset, b.termLength-claimedOffset)
	}
}
