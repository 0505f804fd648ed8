// Copyright 2018 Google Inc.
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

// Package linux contains the constants and types needed to interface with the
// Linux ABI that user space built against the kernel depends on.
package linux

import "fmt"

// Clock identifiers for use with clock_gettime(2), clock_getres(2),
// clock_nanosleep(2).
//
// The values are ABI: user space compiled against the host headers passes
// them unchanged.
const (
	CLOCK_REALTIME           = 0
	CLOCK_MONOTONIC          = 1
	CLOCK_PROCESS_CPUTIME_ID = 2
	CLOCK_THREAD_CPUTIME_ID  = 3
	CLOCK_MONOTONIC_RAW      = 4
	CLOCK_REALTIME_COARSE    = 5
	CLOCK_MONOTONIC_COARSE   = 6
	CLOCK_BOOTTIME           = 7
	CLOCK_REALTIME_ALARM     = 8
	CLOCK_BOOTTIME_ALARM     = 9
)

// NumClocks is the number of clock identifiers above.
const NumClocks = CLOCK_BOOTTIME_ALARM + 1

var clockNames = [NumClocks]string{
	CLOCK_REALTIME:           "CLOCK_REALTIME",
	CLOCK_MONOTONIC:          "CLOCK_MONOTONIC",
	CLOCK_PROCESS_CPUTIME_ID: "CLOCK_PROCESS_CPUTIME_ID",
	CLOCK_THREAD_CPUTIME_ID:  "CLOCK_THREAD_CPUTIME_ID",
	CLOCK_MONOTONIC_RAW:      "CLOCK_MONOTONIC_RAW",
	CLOCK_REALTIME_COARSE:    "CLOCK_REALTIME_COARSE",
	CLOCK_MONOTONIC_COARSE:   "CLOCK_MONOTONIC_COARSE",
	CLOCK_BOOTTIME:           "CLOCK_BOOTTIME",
	CLOCK_REALTIME_ALARM:     "CLOCK_REALTIME_ALARM",
	CLOCK_BOOTTIME_ALARM:     "CLOCK_BOOTTIME_ALARM",
}

// ClockName returns the symbolic name of clock id c.
func ClockName(c int32) string {
	if c >= 0 && c < NumClocks {
		return clockNames[c]
	}
	return fmt.Sprintf("CLOCK_%d", c)
}

// Timespec represents struct timespec in <time.h>.
type Timespec struct {
	Sec  int64
	Nsec int64
}
