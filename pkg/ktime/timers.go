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
	"math"

	"github.com/google/btree"
	"ktrap.dev/ktrap/pkg/abi/linux"
	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/sync"
)

// Timer is a timer in a TimerQueue.
type Timer struct {
	// seq orders timers with equal expiry by insertion.
	seq uint64

	clock  int32
	expiry Timestamp
	period Timestamp
	fn     func(exp uint64)
}

// Clock returns the clock the timer's expiry is measured against.
func (t *Timer) Clock() int32 {
	return t.clock
}

func timerLess(a, b *Timer) bool {
	if a.expiry != b.expiry {
		return a.expiry < b.expiry
	}
	return a.seq < b.seq
}

// isRealtime returns whether timers on clock id move when realtime is
// stepped.
func isRealtime(id int32) bool {
	switch id {
	case linux.CLOCK_REALTIME, linux.CLOCK_REALTIME_COARSE, linux.CLOCK_REALTIME_ALARM:
		return true
	}
	return false
}

// TimerQueue holds pending timers, ordered by expiry, for each clock.
//
// TimerQueue implements Listener: when realtime is stepped, realtime
// timers move with it so they still fire at the same wall clock time.
type TimerQueue struct {
	mu     sync.Mutex
	nextID uint64
	trees  [linux.NumClocks]*btree.BTreeG[*Timer]
}

var _ Listener = (*TimerQueue)(nil)

// NewTimerQueue returns an empty queue.
func NewTimerQueue() *TimerQueue {
	q := &TimerQueue{}
	for i := range q.trees {
		q.trees[i] = btree.NewG(8, timerLess)
	}
	return q
}

// Add arms a timer on clock id that expires at expiry and then every
// period, if period is not zero. fn is called with the number of
// expirations since it last ran.
func (q *TimerQueue) Add(id int32, expiry, period Timestamp, fn func(exp uint64)) (*Timer, error) {
	if !ValidClock(id) {
		return nil, fmt.Errorf("timer on clock %d: %w", id, ErrInvalidClock)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	t := &Timer{seq: q.nextID, clock: id, expiry: expiry, period: period, fn: fn}
	q.trees[id].ReplaceOrInsert(t)
	return t, nil
}

// Cancel disarms t. It returns false if t already fired or was cancelled.
func (q *TimerQueue) Cancel(t *Timer) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.trees[t.clock].Delete(t)
	return ok
}

// Len returns the number of armed timers.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, tr := range q.trees {
		n += tr.Len()
	}
	return n
}

// Next returns the earliest expiry on clock id.
func (q *TimerQueue) Next(id int32) (Timestamp, bool) {
	if !ValidClock(id) {
		return 0, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.trees[id].Min()
	if !ok {
		return 0, false
	}
	return t.expiry, true
}

// Expire fires every timer on clock id that expires at or before now, in
// expiry order, and returns how many fired. Periodic timers are rearmed.
//
// Timer functions are called without the queue lock held, and may add or
// cancel timers.
func (q *TimerQueue) Expire(id int32, now Timestamp) int {
	if !ValidClock(id) {
		return 0
	}
	type firing struct {
		t   *Timer
		exp uint64
	}
	var fire []firing

	q.mu.Lock()
	tr := q.trees[id]
	for {
		t, ok := tr.Min()
		if !ok || t.expiry > now {
			break
		}
		tr.DeleteMin()
		exp := uint64(1)
		if t.period != 0 {
			exp += uint64(now-t.expiry) / uint64(t.period)
			t.expiry += Timestamp(exp) * t.period
			tr.ReplaceOrInsert(t)
		}
		fire = append(fire, firing{t, exp})
	}
	q.mu.Unlock()

	for _, f := range fire {
		f.t.fn(f.exp)
	}
	return len(fire)
}

// RealtimeStepped implements Listener.RealtimeStepped.
func (q *TimerQueue) RealtimeStepped(delta int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id := range q.trees {
		if !isRealtime(int32(id)) {
			continue
		}
		tr := q.trees[id]
		var ts []*Timer
		tr.Ascend(func(t *Timer) bool {
			ts = append(ts, t)
			return true
		})
		tr.Clear(false)
		for _, t := range ts {
			t.expiry = shift(t.expiry, delta)
			tr.ReplaceOrInsert(t)
		}
		n += len(ts)
	}
	log.Debugf("timers: moved %d realtime timers by %d", n, delta)
}

// CalibrationChanged implements Listener.CalibrationChanged.
//
// Expiries are kept in their clock's own domain, so a new calibration
// changes when they fire but not their order.
func (q *TimerQueue) CalibrationChanged() {}

// shift returns t moved by delta, saturating at the ends of the range.
func shift(t Timestamp, delta int64) Timestamp {
	if delta >= 0 {
		if uint64(t) > math.MaxUint64-uint64(delta) {
			return math.MaxUint64
		}
		return t + Timestamp(delta)
	}
	d := uint64(-delta)
	if uint64(t) < d {
		return 0
	}
	return t - Timestamp(d)
}
