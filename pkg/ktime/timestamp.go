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

// Package ktime provides the kernel time base: raw monotonic sources,
// drift compensation, realtime offset and the clock parameter page shared
// with user space.
package ktime

import (
	"fmt"
	"time"

	"ktrap.dev/ktrap/pkg/abi/linux"
)

// Timestamp is a time in seconds as a 32.32 fixed-point number.
//
// Whether it is relative to boot or to the Unix epoch depends on the clock
// it was read from.
type Timestamp uint64

const fractionBits = 32

const fractionMask = 1<<fractionBits - 1

// Seconds returns a Timestamp of n seconds.
func Seconds(n uint64) Timestamp {
	return Timestamp(n << fractionBits)
}

// Milliseconds returns a Timestamp of n milliseconds.
func Milliseconds(n uint64) Timestamp {
	return Seconds(n/1e3) + Seconds(n%1e3)/1e3
}

// Microseconds returns a Timestamp of n microseconds.
func Microseconds(n uint64) Timestamp {
	return Seconds(n/1e6) + Seconds(n%1e6)/1e6
}

// Nanoseconds returns a Timestamp of n nanoseconds.
func Nanoseconds(n uint64) Timestamp {
	return Seconds(n/1e9) + Seconds(n%1e9)/1e9
}

// FromDuration converts d to a Timestamp. Negative durations are zero.
func FromDuration(d time.Duration) Timestamp {
	if d < 0 {
		return 0
	}
	return Nanoseconds(uint64(d))
}

// Sec returns the whole seconds in t.
func (t Timestamp) Sec() uint64 {
	return uint64(t) >> fractionBits
}

// Nanoseconds returns t in nanoseconds, rounded down.
func (t Timestamp) Nanoseconds() uint64 {
	return t.Sec()*1e9 + (uint64(t)&fractionMask)*1e9>>fractionBits
}

// Duration converts t to a time.Duration.
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t.Nanoseconds())
}

// Timespec converts t to a Linux timespec.
func (t Timestamp) Timespec() linux.Timespec {
	return linux.Timespec{
		Sec:  int64(t.Sec()),
		Nsec: int64((uint64(t) & fractionMask) * 1e9 >> fractionBits),
	}
}

// Add returns t advanced by a signed offset in Timestamp units. Offsets
// wrap, as the fixed-point arithmetic on the parameter page does.
func (t Timestamp) Add(off int64) Timestamp {
	return t + Timestamp(off)
}

// String formats t as seconds with microsecond precision.
func (t Timestamp) String() string {
	frac := (uint64(t) & fractionMask) * 1e6 >> fractionBits
	return fmt.Sprintf("%d.%06ds", t.Sec(), frac)
}
