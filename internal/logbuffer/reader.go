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

// FragmentHandler is invoked once per delivered fragment. The payload slice
// aliases buffer memory and must not be retained past the call.
type FragmentHandler func(payload []byte, header Header)

// Read delivers committed frames starting at position, up to fragmentLimit
// fragments, and returns the count delivered plus the new position. Padding
// frames are consumed silently. Zero fragments is a normal outcome meaning
// nothing was committed past position yet.
func (b *Buffer) Read(position int64, handler FragmentHandler, fragmentLimit int) (int, int64) {
	fragments := 0
	mask := int64(b.termLength) - 1

	for fragments < fragmentLimit {
		termCount := int32(position >> b.positionBits)
		if termCount > b.meta.activeTermCount.Load() {
			// The writer has not published this term yet; anything in the
			// partition is leftovers from a prior rotation.
			break
		}
		term := b.terms[int(termCount)%PartitionCount]
		offset := int32(position & mask)

		frameLength := frameLengthVolatile(term, offset)
		if frameLength <= 0 {
			break
		}
		alignedLength := AlignFrameLength(frameLength)

		if frameType(term, offset) == FrameTypePadding {
			position += int64(alignedLength)
			continue
		}

		header := readHeader(term, offset, frameLength, position+int64(alignedLength))
		handler(term[offset+FrameHeaderLength:offset+frameLength], header)
		position += int64(alignedLength)
		fragments++
	}

	return fragments, position
}
