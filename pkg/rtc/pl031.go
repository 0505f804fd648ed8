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
	"fmt"
	"math"

	"ktrap.dev/ktrap/pkg/log"
)

// PL031 register offsets.
const (
	// RTCDR is the data register: the current count, read-only.
	RTCDR = 0x000

	// RTCMR is the match register.
	RTCMR = 0x004

	// RTCLR is the load register: writing it sets the count.
	RTCLR = 0x008

	// RTCCR is the control register. Bit 0 starts the counter.
	RTCCR = 0x00c
)

const rtccrStart = 1 << 0

// MMIO is a 32-bit register window.
type MMIO interface {
	Read32(off uint32) (uint32, error)
	Write32(off uint32, val uint32) error
}

// PL031 is an ARM PrimeCell PL031 real time clock.
type PL031 struct {
	regs MMIO
}

var _ RTC = (*PL031)(nil)

// NewPL031 returns the PL031 behind regs, starting its counter if it is
// stopped.
func NewPL031(regs MMIO) (*PL031, error) {
	cr, err := regs.Read32(RTCCR)
	if err != nil {
		return nil, fmt.Errorf("reading RTCCR: %w", err)
	}
	if cr&rtccrStart == 0 {
		log.Infof("rtc: starting stopped pl031")
		if err := regs.Write32(RTCCR, cr|rtccrStart); err != nil {
			return nil, fmt.Errorf("writing RTCCR: %w", err)
		}
	}
	return &PL031{regs: regs}, nil
}

// Seconds implements RTC.Seconds.
func (p *PL031) Seconds() (uint64, error) {
	dr, err := p.regs.Read32(RTCDR)
	if err != nil {
		return 0, fmt.Errorf("reading RTCDR: %w", err)
	}
	return uint64(dr), nil
}

// SetSeconds implements RTC.SetSeconds. The counter is 32 bits wide.
func (p *PL031) SetSeconds(sec uint64) error {
	if sec > math.MaxUint32 {
		return fmt.Errorf("%d seconds does not fit the pl031 counter", sec)
	}
	if err := p.regs.Write32(RTCLR, uint32(sec)); err != nil {
		return fmt.Errorf("writing RTCLR: %w", err)
	}
	return nil
}
