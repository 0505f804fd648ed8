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

	"ktrap.dev/ktrap/pkg/sync"
)

// Device emulates the PL031 register file. The counter advances with the
// seconds returned by now while it is started.
type Device struct {
	now func() uint64

	mu       sync.Mutex
	count    uint32
	loadedAt uint64
	cr       uint32
	mr       uint32
}

var _ MMIO = (*Device)(nil)

// NewDevice returns a stopped device with a zero count.
func NewDevice(now func() uint64) *Device {
	return &Device{now: now}
}

// current returns the counter value.
//
// Preconditions: d.mu is locked.
func (d *Device) current() uint32 {
	if d.cr&rtccrStart == 0 {
		return d.count
	}
	return d.count + uint32(d.now()-d.loadedAt)
}

// Read32 implements MMIO.Read32.
func (d *Device) Read32(off uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch off {
	case RTCDR:
		return d.current(), nil
	case RTCMR:
		return d.mr, nil
	case RTCLR:
		return d.count, nil
	case RTCCR:
		return d.cr, nil
	default:
		return 0, fmt.Errorf("pl031: read of unknown register %#x", off)
	}
}

// Write32 implements MMIO.Write32.
func (d *Device) Write32(off uint32, val uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch off {
	case RTCMR:
		d.mr = val
	case RTCLR:
		d.count = val
		d.loadedAt = d.now()
	case RTCCR:
		started := d.cr&rtccrStart != 0
		switch {
		case !started && val&rtccrStart != 0:
			d.loadedAt = d.now()
		case started && val&rtccrStart == 0:
			d.count = d.current()
		}
		d.cr = val
	default:
		return fmt.Errorf("pl031: write of read-only or unknown register %#x", off)
	}
	return nil
}
