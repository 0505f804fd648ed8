// Copyright 2026 The gVisor Authors.
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

package sync

import (
	"runtime"
	"sync/atomic"
)

// SeqCount is a synchronization primitive for optimistic reader/writer
// synchronization in cases where readers can work with stale data and
// therefore do not need to block writers.
//
// Compared to sync/atomic.Value:
//
//   - Mutation of SeqCount-protected data does not require memory allocation,
//     whereas atomic.Value generally does. This is a significant advantage
//     when writes are common.
//
//   - Atomic reads of SeqCount-protected data require copying. This is a
//     disadvantage when atomic reads are common.
//
//   - SeqCount may be more flexible: correct use of SeqCount.ReadOk allows
//     other operations to be made atomic with reads of SeqCount-protected
//     data.
//
//   - SeqCount is more cumbersome to use; every reader needs a retry loop.
//
// The counter normally lives in the SeqCount itself. NewSeqCountAt places
// it in external memory instead, such as a page shared with user space,
// where readers that are not Go code follow the same protocol.
type SeqCount struct {
	// epoch is incremented by BeginWrite and EndWrite, such that epoch is
	// odd if a writer critical section is active, and a read from data
	// protected by this SeqCount is atomic iff epoch is the same even
	// value before and after the read.
	epoch uint64

	// word, if not nil, is used instead of epoch.
	word *uint64
}

// SeqCountEpoch tracks writer critical sections in a SeqCount.
type SeqCountEpoch uint64

// NewSeqCountAt returns a SeqCount whose counter is stored at word.
func NewSeqCountAt(word *uint64) *SeqCount {
	return &SeqCount{word: word}
}

func (s *SeqCount) counter() *uint64 {
	if s.word != nil {
		return s.word
	}
	return &s.epoch
}

// BeginRead indicates the beginning of a reader critical section. Reader
// critical sections DO NOT BLOCK writer critical sections, so operations in
// a reader critical section MAY RACE with writer critical sections. Races
// are detected by ReadOk at the end of the reader critical section. Thus,
// the low-level structure of readers is generally:
//
//	for {
//	    epoch := seq.BeginRead()
//	    // do something idempotent with seq-protected data
//	    if seq.ReadOk(epoch) {
//	        break
//	    }
//	}
//
// However, since reader critical sections may race with writer critical
// sections, the Go race detector will (accurately) flag data races in
// readers using this pattern. Most users of SeqCount will need to use the
// per-word atomic loads used by the param page instead.
//
//go:nosplit
func (s *SeqCount) BeginRead() SeqCountEpoch {
	p := s.counter()
	if epoch := atomic.LoadUint64(p); epoch&1 == 0 {
		return SeqCountEpoch(epoch)
	}
	return s.beginReadSlow(p)
}

func (s *SeqCount) beginReadSlow(p *uint64) SeqCountEpoch {
	for {
		if epoch := atomic.LoadUint64(p); epoch&1 == 0 {
			return SeqCountEpoch(epoch)
		}
		runtime.Gosched()
	}
}

// ReadOk returns true if the reader critical section initiated by a
// previous call to BeginRead() that returned epoch did not race with any
// writer critical sections.
//
// ReadOk may be called any number of times during a reader critical
// section. Reader critical sections do not need to be explicitly terminated;
// the last call to ReadOk is implicitly the end of the reader critical
// section.
//
//go:nosplit
func (s *SeqCount) ReadOk(epoch SeqCountEpoch) bool {
	return atomic.LoadUint64(s.counter()) == uint64(epoch)
}

// BeginWrite indicates the beginning of a writer critical section.
//
// SeqCount does not support concurrent writer critical sections; clients
// with concurrent writers must synchronize them using e.g. sync.Mutex.
func (s *SeqCount) BeginWrite() {
	if epoch := atomic.AddUint64(s.counter(), 1); epoch&1 == 0 {
		panic("SeqCount.BeginWrite during writer critical section")
	}
}

// EndWrite ends the effect of a preceding BeginWrite.
func (s *SeqCount) EndWrite() {
	if epoch := atomic.AddUint64(s.counter(), 1); epoch&1 != 0 {
		panic("SeqCount.EndWrite outside writer critical section")
	}
}

// Epoch returns the current counter value.
func (s *SeqCount) Epoch() SeqCountEpoch {
	return SeqCountEpoch(atomic.LoadUint64(s.counter()))
}
