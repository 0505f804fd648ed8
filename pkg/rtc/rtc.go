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

// Package rtc provides battery-backed real time clocks.
//
// An RTC keeps whole seconds since the Unix epoch across reboots. The time
// base reads it once at boot to derive the realtime offset and writes it
// back whenever the wall clock is corrected.
package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
	"ktrap.dev/ktrap/pkg/ktime"
	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/sync"
)

var (
	// ErrUnavailable is returned when the clock cannot be accessed at all.
	// Reads are not retried.
	ErrUnavailable = errors.New("rtc unavailable")

	// ErrUnstable is returned by ReadStable when consecutive reads never
	// agreed.
	ErrUnstable = errors.New("rtc reads did not settle")
)

// RTC is a real time clock with one second resolution.
type RTC interface {
	// Seconds returns the seconds since the Unix epoch.
	Seconds() (uint64, error)

	// SetSeconds sets the clock.
	SetSeconds(sec uint64) error
}

// Host is an RTC backed by the host's CLOCK_REALTIME. Setting it records
// an offset instead of changing the host clock.
type Host struct {
	mu     sync.Mutex
	offset int64

	// now returns the host time in seconds.
	now func() (int64, error)
}

// NewHost returns an RTC that reads the host clock.
func NewHost() *Host {
	return &Host{now: hostRealtime}
}

func hostRealtime() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return 0, fmt.Errorf("clock_gettime(CLOCK_REALTIME): %v: %w", err, ErrUnavailable)
	}
	return ts.Sec, nil
}

// Seconds implements RTC.Seconds.
func (h *Host) Seconds() (uint64, error) {
	now, err := h.now()
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sec := now + h.offset
	if sec < 0 {
		return 0, fmt.Errorf("host time %d before the epoch: %w", sec, ErrUnavailable)
	}
	return uint64(sec), nil
}

// SetSeconds implements RTC.SetSeconds.
func (h *Host) SetSeconds(sec uint64) error {
	now, err := h.now()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.offset = int64(sec) - now
	h.mu.Unlock()
	return nil
}

// DefaultPolicy returns the retry policy used by Clock: a few quick
// retries, since an RTC only ticks once a second.
func DefaultPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 5)
}

// ReadStable reads r until two consecutive reads agree, retrying according
// to b. This filters out reads torn across a seconds rollover.
func ReadStable(r RTC, b backoff.BackOff) (uint64, error) {
	var (
		last uint64
		have bool
	)
	op := func() error {
		sec, err := r.Seconds()
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				return backoff.Permanent(err)
			}
			have = false
			return err
		}
		if have && sec == last {
			return nil
		}
		last, have = sec, true
		return ErrUnstable
	}
	if err := backoff.Retry(op, b); err != nil {
		return 0, err
	}
	return last, nil
}

// Clock adapts an RTC to ktime.WallClock. Failed reads return zero, which
// the time base treats as an unknown time.
type Clock struct {
	rtc RTC

	// policy returns a fresh retry policy for each read.
	policy func() backoff.BackOff
}

var _ ktime.WallClock = (*Clock)(nil)

// NewClock returns a wall clock reading r with DefaultPolicy.
func NewClock(r RTC) *Clock {
	return &Clock{rtc: r, policy: DefaultPolicy}
}

// Seconds implements ktime.WallClock.Seconds.
func (c *Clock) Seconds() uint64 {
	sec, err := ReadStable(c.rtc, c.policy())
	if err != nil {
		log.Warningf("rtc: read failed: %v", err)
		return 0
	}
	return sec
}

// SetSeconds implements ktime.WallClock.SetSeconds.
func (c *Clock) SetSeconds(sec uint64) {
	if err := c.rtc.SetSeconds(sec); err != nil {
		log.Warningf("rtc: setting %d failed: %v", sec, err)
	}
}
