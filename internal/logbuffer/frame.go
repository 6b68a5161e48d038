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

package logbuffer

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Frame header layout (32 bytes, little-endian, aligned 32):
// int32  frameLength // full frame length including header; committed last
// uint8  version     // protocol version, currently 1
// uint8  flags       // per-type flags
// uint16 type        // enum FrameType
// int32  termOffset  // offset of this frame within its term
// int32  sessionID   // publisher session
// int32  streamID    // stream within the channel
// int32  termID      // term this frame was written into
// int64  reserved    // application reserved value; zero for now
const (
	FrameHeaderLength = 32
	FrameAlignment    = 32

	frameVersionOffset    = 4
	frameFlagsOffset      = 5
	frameTypeOffset       = 6
	frameTermOffsetOffset = 8
	frameSessionIDOffset  = 12
	frameStreamIDOffset   = 16
	frameTermIDOffset     = 20
	frameReservedOffset   = 24
)

// FrameType discriminates data frames from the padding frames written over a
// term's unusable tail during rotation.
type FrameType uint16

const (
	FrameTypePadding FrameType = 0x00
	FrameTypeData    FrameType = 0x01
)

const frameVersion = uint8(1)

// FrameFlagUnfragmented marks a frame carrying a whole message. Begin/end
// flags exist for parity with multi-frame messages; a single-frame message
// carries both.
const (
	FrameFlagBegin        = uint8(0x80)
	FrameFlagEnd          = uint8(0x40)
	FrameFlagUnfragmented = FrameFlagBegin | FrameFlagEnd
)

// AlignFrameLength rounds length up to the frame alignment boundary.
func AlignFrameLength(length int32) int32 {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// frameLengthVolatile reads the committed frame length at offset with acquire
// semantics. Zero means the writer has not committed the frame yet.
func frameLengthVolatile(term []byte, offset int32) int32 {
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&term[offset])))
}

// frameLengthOrdered commits a frame by storing its length with release
// semantics. Everything else in the frame must be written before this.
func frameLengthOrdered(term []byte, offset int32, length int32) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&term[offset])), length)
}

func frameType(term []byte, offset int32) FrameType {
	return FrameType(binary.LittleEndian.Uint16(term[offset+frameTypeOffset:]))
}

// writeFrameHeader fills every header field except frameLength, which the
// caller commits separately via frameLengthOrdered.
func writeFrameHeader(term []byte, offset int32, ft FrameType, flags uint8, termOffset, sessionID, streamID, termID int32) {
	term[offset+frameVersionOffset] = frameVersion
	term[offset+frameFlagsOffset] = flags
	binary.LittleEndian.PutUint16(term[offset+frameTypeOffset:], uint16(ft))
	binary.LittleEndian.PutUint32(term[offset+frameTermOffsetOffset:], uint32(termOffset))
	binary.LittleEndian.PutUint32(term[offset+frameSessionIDOffset:], uint32(sessionID))
	binary.LittleEndian.PutUint32(term[offset+frameStreamIDOffset:], uint32(streamID))
	binary.LittleEndian.PutUint32(term[offset+frameTermIDOffset:], uint32(termID))
	binary.LittleEndian.PutUint64(term[offset+frameReservedOffset:], 0)
}

// Header gives a poll handler read access to the frame metadata of the
// fragment being delivered.
type Header struct {
	frameLength int32
	termOffset  int32
	sessionID   int32
	streamID    int32
	termID      int32
	flags       uint8
	position    int64
}

// Length returns the payload length in bytes, excluding the frame header.
func (h *Header) Length() int32 { return h.frameLength - FrameHeaderLength }

// FrameLength returns the full frame length including the header.
func (h *Header) FrameLength() int32 { return h.frameLength }

// TermOffset returns the frame's offset within its term.
func (h *Header) TermOffset() int32 { return h.termOffset }

// SessionID identifies the publisher session that wrote the frame.
func (h *Header) SessionID() int32 { return h.sessionID }

// StreamID identifies the stream the frame belongs to.
func (h *Header) StreamID() int32 { return h.streamID }

// TermID returns the term the frame was written into.
func (h *Header) TermID() int32 { return h.termID }

// Flags returns the frame flags.
func (h *Header) Flags() uint8 { return h.flags }

// Position returns the stream position immediately after this frame.
func (h *Header) Position() int64 { return h.position }

func readHeader(term []byte, offset int32, frameLength int32, position int64) Header {
	return Header{
		frameLength: frameLength,
		termOffset:  offset,
		sessionID:   int32(binary.LittleEndian.Uint32(term[offset+frameSessionIDOffset:])),
		streamID:    int32(binary.LittleEndian.Uint32(term[offset+frameStreamIDOffset:])),
		termID:      int32(binary.LittleEndian.Uint32(term[offset+frameTermIDOffset:])),
		flags:       term[offset+frameFlagsOffset],
		position:    position,
	}
}
