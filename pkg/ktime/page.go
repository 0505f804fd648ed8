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

package ktime

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"ktrap.dev/ktrap/pkg/sync"
)

// Word offsets on the parameter page.
const (
	wordSeq = iota
	wordCal
	wordTempCal
	wordSyncComplete
	wordLastRaw
	wordLastDrift
	wordRTCOffset
	wordClockSource
	wordPreciseClocksource
	numWords
)

// PageSize is the size of the parameter page.
const PageSize = 4096

// ParamLength is the number of bytes of the page that are in use.
const ParamLength = numWords * 8

// ParamPage manages the clock parameter page.
//
// Its memory layout looks like:
//
//	type page struct {
//		// seq is a sequence counter that protects the fields below.
//		seq uint64
//		Params
//	}
//
// Everything in the struct is 8 bytes for easy alignment. The layout is
// ABI: user space reads the page directly.
//
// Writers are serialized by mu. Every word is accessed atomically, so a
// reader racing a writer sees either old or new words and the sequence
// counter tells it to retry.
type ParamPage struct {
	// mu serializes writers.
	mu sync.Mutex

	// words is the page, as 64-bit words.
	words []uint64

	// seq is the counter in words[wordSeq].
	seq *sync.SeqCount

	// mapping is the mmap'd region backing words, or nil for heap pages.
	mapping []byte
}

// NewParamPage returns a parameter page backed by Go memory.
func NewParamPage() *ParamPage {
	return newParamPage(make([]uint64, PageSize/8), nil)
}

// NewMappedParamPage returns a parameter page backed by a shared anonymous
// mapping, suitable for mapping read-only into other address spaces.
// Close releases it.
func NewMappedParamPage() (*ParamPage, error) {
	m, err := unix.Mmap(-1, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping clock parameter page: %w", err)
	}
	return newParamPage(bytesToWords(m), m), nil
}

func newParamPage(words []uint64, mapping []byte) *ParamPage {
	return &ParamPage{
		words:   words,
		seq:     sync.NewSeqCountAt(&words[wordSeq]),
		mapping: mapping,
	}
}

// Close releases the page's mapping, if any. The page must not be used
// afterwards.
func (p *ParamPage) Close() error {
	if p.mapping == nil {
		return nil
	}
	m := p.mapping
	p.mapping = nil
	p.words = nil
	return unix.Munmap(m)
}

// Mapped returns whether the page is backed by a shared mapping.
func (p *ParamPage) Mapped() bool {
	return p.mapping != nil
}

// Seq returns the current sequence count.
func (p *ParamPage) Seq() uint64 {
	return uint64(p.seq.Epoch())
}

// load reads every parameter word. The result may be torn unless the
// caller holds mu or validates it with the sequence counter.
func (p *ParamPage) load() Params {
	w := p.words
	return Params{
		Cal:                int64(atomic.LoadUint64(&w[wordCal])),
		TempCal:            int64(atomic.LoadUint64(&w[wordTempCal])),
		SyncComplete:       Timestamp(atomic.LoadUint64(&w[wordSyncComplete])),
		LastRaw:            Timestamp(atomic.LoadUint64(&w[wordLastRaw])),
		LastDrift:          int64(atomic.LoadUint64(&w[wordLastDrift])),
		RTCOffset:          int64(atomic.LoadUint64(&w[wordRTCOffset])),
		ClockSource:        SourceID(atomic.LoadUint64(&w[wordClockSource])),
		PreciseClocksource: atomic.LoadUint64(&w[wordPreciseClocksource]) != 0,
	}
}

// store writes every parameter word.
//
// Calibration words are stored before the boundary that activates them.
//
// Preconditions: p.mu is locked and a writer critical section is active.
func (p *ParamPage) store(v *Params) {
	w := p.words
	atomic.StoreUint64(&w[wordCal], uint64(v.Cal))
	atomic.StoreUint64(&w[wordTempCal], uint64(v.TempCal))
	atomic.StoreUint64(&w[wordSyncComplete], uint64(v.SyncComplete))
	atomic.StoreUint64(&w[wordLastRaw], uint64(v.LastRaw))
	atomic.StoreUint64(&w[wordLastDrift], uint64(v.LastDrift))
	atomic.StoreUint64(&w[wordRTCOffset], uint64(v.RTCOffset))
	atomic.StoreUint64(&w[wordClockSource], uint64(v.ClockSource))
	var precise uint64
	if v.PreciseClocksource {
		precise = 1
	}
	atomic.StoreUint64(&w[wordPreciseClocksource], precise)
}

// Snapshot returns a consistent copy of the parameters.
func (p *ParamPage) Snapshot() Params {
	for {
		epoch := p.seq.BeginRead()
		v := p.load()
		if p.seq.ReadOk(epoch) {
			return v
		}
	}
}

// Update calls f with the current parameters and publishes what f leaves
// in them as one write.
//
// f runs with the writer lock held and must not call back into p.
func (p *ParamPage) Update(f func(v *Params)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.load()
	f(&v)
	p.seq.BeginWrite()
	p.store(&v)
	p.seq.EndWrite()
}

// ReadNow computes the reading of clock id at raw time raw the way user
// space does: from a snapshot, without advancing the drift baseline.
func (p *ParamPage) ReadNow(id int32, raw Timestamp) Timestamp {
	v := p.Snapshot()
	if raw < v.LastRaw {
		raw = v.LastRaw
	}
	return v.At(id, raw, v.Drift(raw))
}
