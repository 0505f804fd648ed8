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
	"math/bits"

	"ktrap.dev/ktrap/pkg/abi/linux"
)

// CalibrationBits is the number of fractional bits in a calibration
// factor.
const CalibrationBits = 32

// CalculateDrift returns the drift accumulated over interval at
// calibration cal, a signed fixed-point factor with CalibrationBits
// fractional bits.
//
// The magnitude is scaled before the sign is applied, so a negative
// calibration yields exactly the negation of the matching positive one.
func CalculateDrift(interval Timestamp, cal int64) int64 {
	if cal >= 0 {
		return scale(uint64(interval), uint64(cal))
	}
	return -scale(uint64(interval), uint64(-cal))
}

// scale returns x*c >> CalibrationBits using the full 128-bit product.
func scale(x, c uint64) int64 {
	hi, lo := bits.Mul64(x, c)
	return int64(hi<<(64-CalibrationBits) | lo>>CalibrationBits)
}

// SourceID identifies the hardware clock source user space reads.
type SourceID uint64

// Clock sources.
const (
	SourceSyscall SourceID = iota
	SourceHPET
	SourceTSCStable
	SourcePVClock

	// NumSources is the number of clock sources.
	NumSources
)

var sourceNames = [NumSources]string{
	SourceSyscall:   "syscall",
	SourceHPET:      "hpet",
	SourceTSCStable: "tsc",
	SourcePVClock:   "pvclock",
}

// String implements fmt.Stringer.
func (s SourceID) String() string {
	if s < NumSources {
		return sourceNames[s]
	}
	return "unknown"
}

// Params are the clock parameters shared with user space.
//
// The field order is the order of the words on the parameter page.
type Params struct {
	// Cal is the calibration that applies after SyncComplete.
	Cal int64

	// TempCal is the provisional calibration that applies up to
	// SyncComplete.
	TempCal int64

	// SyncComplete is the raw time at which Cal supersedes TempCal.
	SyncComplete Timestamp

	// LastRaw is the raw time of the last drift update.
	//
	// Invariant: LastRaw never decreases between resets.
	LastRaw Timestamp

	// LastDrift is the drift accumulated up to LastRaw.
	LastDrift int64

	// RTCOffset is realtime minus raw monotonic time.
	RTCOffset int64

	// ClockSource is the active clock source.
	ClockSource SourceID

	// PreciseClocksource is true if the platform has a precise clock
	// source user space may read directly.
	PreciseClocksource bool
}

// Drift returns the total drift at raw time raw, computed incrementally
// from LastRaw and LastDrift.
//
// An interval that straddles SyncComplete is split: the part before it
// accrues at TempCal and the rest at Cal.
//
// Preconditions: raw >= p.LastRaw.
func (p *Params) Drift(raw Timestamp) int64 {
	if p.TempCal == 0 && p.Cal == 0 {
		return 0
	}
	drift := p.LastDrift
	switch {
	case raw <= p.SyncComplete:
		drift += CalculateDrift(raw-p.LastRaw, p.TempCal)
	case p.LastRaw > p.SyncComplete:
		drift += CalculateDrift(raw-p.LastRaw, p.Cal)
	default:
		drift += CalculateDrift(p.SyncComplete-p.LastRaw, p.TempCal)
		drift += CalculateDrift(raw-p.SyncComplete, p.Cal)
	}
	return drift
}

// UpdateDrift advances the drift baseline to raw and returns the drift
// there.
//
// Preconditions: raw >= p.LastRaw.
func (p *Params) UpdateDrift(raw Timestamp) int64 {
	d := p.Drift(raw)
	p.LastDrift = d
	p.LastRaw = raw
	return d
}

// At returns the reading of clock id for raw time raw, given drift d at
// that time.
func (p *Params) At(id int32, raw Timestamp, d int64) Timestamp {
	if id == linux.CLOCK_MONOTONIC_RAW {
		return raw
	}
	t := raw.Add(d)
	if isRealtime(id) {
		t = t.Add(p.RTCOffset)
	}
	return t
}

// ValidClock returns whether id names a clock.
func ValidClock(id int32) bool {
	return id >= 0 && id < linux.NumClocks
}
