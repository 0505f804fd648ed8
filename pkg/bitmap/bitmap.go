// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package bitmap provides a fixed size bitmap of small integer ids.
package bitmap

import (
	"errors"
	"math/bits"
)

// ErrNoZero is returned by FirstZero when every bit from the start position
// to the end of the bitmap is set.
var ErrNoZero = errors.New("bitmap: no unset bit")

// Bitmap is a set of ids in [0, Size()).
//
// The zero value is an empty bitmap of size zero. Bitmap is not safe for
// concurrent use.
type Bitmap struct {
	words []uint64
	count uint32
}

// New returns an empty bitmap that holds at least size ids.
func New(size uint32) Bitmap {
	return Bitmap{words: make([]uint64, (size+63)/64)}
}

// Size returns the number of ids the bitmap holds.
func (b *Bitmap) Size() int {
	return 64 * len(b.words)
}

// Count returns the number of set ids.
func (b *Bitmap) Count() uint32 {
	return b.count
}

func (b *Bitmap) locate(i uint32) (int, uint64, bool) {
	w := int(i / 64)
	return w, 1 << (i % 64), w < len(b.words)
}

// Contains returns whether i is set.
func (b *Bitmap) Contains(i uint32) bool {
	w, mask, ok := b.locate(i)
	return ok && b.words[w]&mask != 0
}

// Add sets i. Ids beyond the end of the bitmap are ignored.
func (b *Bitmap) Add(i uint32) {
	w, mask, ok := b.locate(i)
	if !ok || b.words[w]&mask != 0 {
		return
	}
	b.words[w] |= mask
	b.count++
}

// Remove clears i.
func (b *Bitmap) Remove(i uint32) {
	w, mask, ok := b.locate(i)
	if !ok || b.words[w]&mask == 0 {
		return
	}
	b.words[w] &^= mask
	b.count--
}

// FirstZero returns the lowest unset id that is at least start.
func (b *Bitmap) FirstZero(start uint32) (uint32, error) {
	w, mask, ok := b.locate(start)
	if !ok {
		return 0, ErrNoZero
	}
	// Treat everything below start in the first word as set.
	free := ^(b.words[w] | (mask - 1))
	for free == 0 {
		w++
		if w == len(b.words) {
			return 0, ErrNoZero
		}
		free = ^b.words[w]
	}
	return uint32(64*w + bits.TrailingZeros64(free)), nil
}
