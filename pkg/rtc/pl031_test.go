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

package rtc

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// recordingMMIO wraps an MMIO and records writes.
type recordingMMIO struct {
	MMIO
	writes []string
}

func (r *recordingMMIO) Write32(off uint32, val uint32) error {
	r.writes = append(r.writes, fmt.Sprintf("%s=%d", regName(off), val))
	return r.MMIO.Write32(off, val)
}

func regName(off uint32) string {
	switch off {
	case RTCDR:
		return "dr"
	case RTCMR:
		return "mr"
	case RTCLR:
		return "lr"
	case RTCCR:
		return "cr"
	}
	return "?"
}

func TestPL031(t *testing.T) {
	now := uint64(100)
	dev := &recordingMMIO{MMIO: NewDevice(func() uint64 { return now })}
	p, err := NewPL031(dev)
	if err != nil {
		t.Fatalf("NewPL031 failed: %v", err)
	}
	if err := p.SetSeconds(1700000000); err != nil {
		t.Fatalf("SetSeconds failed: %v", err)
	}
	now += 30
	if got, err := p.Seconds(); err != nil || got != 1700000030 {
		t.Errorf("Seconds = %d, %v, want 1700000030", got, err)
	}
	if err := p.SetSeconds(math.MaxUint32 + 1); err == nil {
		t.Errorf("SetSeconds(2^32) succeeded, want error")
	}
	if diff := cmp.Diff([]string{"cr=1", "lr=1700000000"}, dev.writes); diff != "" {
		t.Errorf("register writes mismatch (-want +got):\n%s", diff)
	}

	// A running device is left alone.
	dev.writes = nil
	if _, err := NewPL031(dev); err != nil {
		t.Fatalf("NewPL031 failed: %v", err)
	}
	if len(dev.writes) != 0 {
		t.Errorf("NewPL031 wrote %v to a running device", dev.writes)
	}
}

func TestDeviceStopStart(t *testing.T) {
	now := uint64(0)
	d := NewDevice(func() uint64 { return now })
	read := func() uint32 {
		t.Helper()
		v, err := d.Read32(RTCDR)
		if err != nil {
			t.Fatalf("Read32(RTCDR) failed: %v", err)
		}
		return v
	}

	if err := d.Write32(RTCLR, 10); err != nil {
		t.Fatalf("Write32(RTCLR) failed: %v", err)
	}
	now = 5
	if got := read(); got != 10 {
		t.Errorf("stopped counter = %d, want 10", got)
	}
	if err := d.Write32(RTCCR, 1); err != nil {
		t.Fatalf("Write32(RTCCR) failed: %v", err)
	}
	now = 8
	if got := read(); got != 13 {
		t.Errorf("running counter = %d, want 13", got)
	}
	if err := d.Write32(RTCCR, 0); err != nil {
		t.Fatalf("Write32(RTCCR) failed: %v", err)
	}
	now = 100
	if got := read(); got != 13 {
		t.Errorf("stopped counter = %d, want 13", got)
	}

	if err := d.Write32(RTCDR, 1); err == nil {
		t.Errorf("Write32(RTCDR) succeeded, want error")
	}
	if _, err := d.Read32(0x100); err == nil {
		t.Errorf("Read32(0x100) succeeded, want error")
	}
}

type brokenMMIO struct{}

var errBus = errors.New("bus error")

func (brokenMMIO) Read32(uint32) (uint32, error) { return 0, errBus }

func (brokenMMIO) Write32(uint32, uint32) error { return errBus }

func TestPL031Errors(t *testing.T) {
	if _, err := NewPL031(brokenMMIO{}); !errors.Is(err, errBus) {
		t.Errorf("NewPL031 = %v, want %v", err, errBus)
	}
	p := &PL031{regs: brokenMMIO{}}
	if _, err := p.Seconds(); !errors.Is(err, errBus) {
		t.Errorf("Seconds = %v, want %v", err, errBus)
	}
	if err := p.SetSeconds(1); !errors.Is(err, errBus) {
		t.Errorf("SetSeconds = %v, want %v", err, errBus)
	}
}
