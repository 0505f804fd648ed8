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
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
	"ktrap.dev/ktrap/pkg/abi/linux"
	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/sync"
)

var (
	// ErrNoSource is returned when a clock is read before a source is
	// registered.
	ErrNoSource = errors.New("no clock source registered")

	// ErrInvalidClock is returned for unknown clock ids.
	ErrInvalidClock = errors.New("invalid clock id")
)

// Source is a raw monotonic hardware time source.
type Source interface {
	// Now returns the raw monotonic time.
	Now() Timestamp
}

// SourceFunc adapts a function to Source.
type SourceFunc func() Timestamp

// Now implements Source.Now.
func (f SourceFunc) Now() Timestamp {
	return f()
}

// HostSource reads the host's CLOCK_MONOTONIC_RAW.
type HostSource struct{}

// Now implements Source.Now.
func (HostSource) Now() Timestamp {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		panic(fmt.Sprintf("clock_gettime(CLOCK_MONOTONIC_RAW) failed: %v", err))
	}
	return Seconds(uint64(ts.Sec)) + Nanoseconds(uint64(ts.Nsec))
}

// WallClock is the battery-backed real time clock, in whole seconds since
// the Unix epoch. Seconds returns zero if the time is unknown.
type WallClock interface {
	Seconds() uint64
	SetSeconds(sec uint64)
}

// Listener is notified of clock changes that move timer expirations.
type Listener interface {
	// RealtimeStepped is called after realtime has been stepped by delta
	// Timestamp units.
	RealtimeStepped(delta int64)

	// CalibrationChanged is called after a new calibration is installed.
	CalibrationChanged()
}

// Clock is the kernel time base.
//
// Every drift corrected read advances the drift baseline on the parameter
// page, so reads are writes and are serialized by the page.
type Clock struct {
	page *ParamPage

	// mu protects the fields below.
	mu        sync.Mutex
	src       Source
	rtc       WallClock
	listeners []Listener

	// pause is called while busy waiting.
	pause func()

	// warn reports raw clock regressions without flooding the log.
	warn log.Logger
}

// NewClock returns a clock that publishes to page. rtc may be nil, in which
// case realtime starts at the Unix epoch plus uptime.
func NewClock(page *ParamPage, rtc WallClock) *Clock {
	return &Clock{
		page:  page,
		rtc:   rtc,
		pause: runtime.Gosched,
		warn:  log.BasicRateLimitedLogger(time.Minute),
	}
}

// Page returns the parameter page.
func (c *Clock) Page() *ParamPage {
	return c.page
}

// SetPause sets the function called while busy waiting in Delay.
func (c *Clock) SetPause(pause func()) {
	c.mu.Lock()
	c.pause = pause
	c.mu.Unlock()
}

// AddListener registers l for clock change notifications.
func (c *Clock) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Clock) source() Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src
}

func (c *Clock) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Listener(nil), c.listeners...)
}

// RegisterSource makes src the raw time source and resets the clock
// parameters.
func (c *Clock) RegisterSource(src Source, id SourceID) {
	c.mu.Lock()
	c.src = src
	c.mu.Unlock()
	c.page.Update(func(v *Params) {
		v.ClockSource = id
	})
	log.Infof("clock: registered %v source", id)
	c.Reset()
}

// Reset derives the realtime offset from the RTC and clears calibration.
func (c *Clock) Reset() {
	src := c.source()
	if src == nil {
		return
	}
	var rt uint64
	c.mu.Lock()
	if c.rtc != nil {
		rt = c.rtc.Seconds()
	}
	c.mu.Unlock()
	c.page.Update(func(v *Params) {
		v.RTCOffset = 0
		if rt != 0 {
			v.RTCOffset = int64(Seconds(rt) - src.Now())
		}
		v.TempCal = 0
		v.Cal = 0
		v.SyncComplete = 0
		v.LastRaw = 0
		v.LastDrift = 0
	})
}

// advance moves the drift baseline to raw and returns the drift there. A
// raw reading behind the baseline is clamped to it.
//
// Preconditions: called from a ParamPage.Update callback.
func (c *Clock) advance(v *Params, raw Timestamp) (Timestamp, int64) {
	if raw < v.LastRaw {
		c.warn.Warningf("clock: raw time %v behind last raw time %v", raw, v.LastRaw)
		raw = v.LastRaw
	}
	return raw, v.UpdateDrift(raw)
}

// Read returns the current time of clock id.
func (c *Clock) Read(id int32) (Timestamp, error) {
	if !ValidClock(id) {
		return 0, fmt.Errorf("clock %d: %w", id, ErrInvalidClock)
	}
	src := c.source()
	if src == nil {
		return 0, ErrNoSource
	}
	raw := src.Now()
	if id == linux.CLOCK_MONOTONIC_RAW {
		return raw, nil
	}
	var t Timestamp
	c.page.Update(func(v *Params) {
		r, d := c.advance(v, raw)
		t = v.At(id, r, d)
	})
	return t, nil
}

// Now returns the current time of clock id, or zero if it cannot be read.
func (c *Clock) Now(id int32) Timestamp {
	t, err := c.Read(id)
	if err != nil {
		log.Debugf("clock: reading %s: %v", linux.ClockName(id), err)
		return 0
	}
	return t
}

// Uptime returns the time since boot.
func (c *Clock) Uptime() Timestamp {
	return c.Now(linux.CLOCK_BOOTTIME)
}

// Delay busy waits for d. Without a registered source time never
// advances, so it returns ErrNoSource instead.
func (c *Clock) Delay(d Timestamp) error {
	if c.source() == nil {
		return ErrNoSource
	}
	c.mu.Lock()
	pause := c.pause
	c.mu.Unlock()
	end := c.Now(linux.CLOCK_MONOTONIC) + d
	for c.Now(linux.CLOCK_MONOTONIC) < end {
		pause()
	}
	return nil
}

// Adjust installs a new calibration and sets the RTC to wallclockNow.
//
// Drift up to now accrues at the calibration in force until now, so
// monotonic time does not jump. From then on, tempCal applies until raw
// time syncComplete and cal after it. All four values are published in one
// write.
func (c *Clock) Adjust(wallclockNow Timestamp, tempCal int64, syncComplete Timestamp, cal int64) error {
	src := c.source()
	if src == nil {
		return ErrNoSource
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("clock: adjust: wallclock_now %v, temp_cal %d, sync_complete %v, cal %d",
			wallclockNow, tempCal, syncComplete, cal)
	}
	here := src.Now()
	c.page.Update(func(v *Params) {
		if v.LastRaw == 0 {
			v.LastRaw = here
		} else {
			c.advance(v, here)
		}
		v.TempCal = tempCal
		v.SyncComplete = syncComplete
		v.Cal = cal
	})
	for _, l := range c.snapshotListeners() {
		l.CalibrationChanged()
	}
	c.setRTC(wallclockNow.Sec())
	return nil
}

// ResetRTC steps realtime to wallclockNow.
//
// Realtime timers are moved by the same amount, and the calibration is
// cleared.
func (c *Clock) ResetRTC(wallclockNow Timestamp) error {
	n, err := c.Read(linux.CLOCK_REALTIME)
	if err != nil {
		return err
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("clock: reset rtc: now %v, wallclock_now %v", n, wallclockNow)
	}
	c.setRTC(wallclockNow.Sec())
	delta := int64(wallclockNow - n)
	for _, l := range c.snapshotListeners() {
		l.RealtimeStepped(delta)
	}
	c.Reset()
	return nil
}

func (c *Clock) setRTC(sec uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rtc != nil {
		c.rtc.SetSeconds(sec)
	}
}

// HasPreciseClocksource returns whether user space may read the clock
// source directly.
func (c *Clock) HasPreciseClocksource() bool {
	return c.page.Snapshot().PreciseClocksource
}

// SetPreciseClocksource sets the precise clock source capability.
func (c *Clock) SetPreciseClocksource(precise bool) {
	c.page.Update(func(v *Params) {
		v.PreciseClocksource = precise
	})
}
