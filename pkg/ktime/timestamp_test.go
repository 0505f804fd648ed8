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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"ktrap.dev/ktrap/pkg/abi/linux"
)

func TestTimestampConversions(t *testing.T) {
	for _, tc := range []struct {
		name  string
		ts    Timestamp
		sec   uint64
		nsec  uint64
		str   string
		tspec linux.Timespec
	}{
		{
			name:  "zero",
			ts:    0,
			sec:   0,
			nsec:  0,
			str:   "0.000000s",
			tspec: linux.Timespec{},
		},
		{
			name:  "seconds",
			ts:    Seconds(42),
			sec:   42,
			nsec:  42e9,
			str:   "42.000000s",
			tspec: linux.Timespec{Sec: 42},
		},
		{
			name:  "half",
			ts:    Seconds(1) + Milliseconds(500),
			sec:   1,
			nsec:  1500000000,
			str:   "1.500000s",
			tspec: linux.Timespec{Sec: 1, Nsec: 500000000},
		},
		{
			name:  "quarter",
			ts:    Seconds(3) + 1<<30,
			sec:   3,
			nsec:  3250000000,
			str:   "3.250000s",
			tspec: linux.Timespec{Sec: 3, Nsec: 250000000},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ts.Sec(); got != tc.sec {
				t.Errorf("Sec = %d, want %d", got, tc.sec)
			}
			if got := tc.ts.Nanoseconds(); got != tc.nsec {
				t.Errorf("Nanoseconds = %d, want %d", got, tc.nsec)
			}
			if got := tc.ts.String(); got != tc.str {
				t.Errorf("String = %q, want %q", got, tc.str)
			}
			if diff := cmp.Diff(tc.tspec, tc.ts.Timespec()); diff != "" {
				t.Errorf("Timespec mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTimestampConstructors(t *testing.T) {
	// Sub-second constructors round down, so allow one unit of error.
	for _, tc := range []struct {
		name string
		got  Timestamp
		want Timestamp
	}{
		{name: "milliseconds", got: Milliseconds(2250), want: Seconds(2) + 1<<30},
		{name: "microseconds", got: Microseconds(1500000), want: Seconds(1) + 1<<31},
		{name: "nanoseconds", got: Nanoseconds(750000000), want: 3 << 30},
		{name: "duration", got: FromDuration(1500 * time.Millisecond), want: Seconds(1) + 1<<31},
		{name: "negative duration", got: FromDuration(-time.Second), want: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if d := int64(tc.got - tc.want); d < -1 || d > 1 {
				t.Errorf("got %d, want %d", tc.got, tc.want)
			}
		})
	}

	if got := Seconds(7).Duration(); got != 7*time.Second {
		t.Errorf("Duration = %v, want 7s", got)
	}
	if got := Seconds(7).Add(-int64(Seconds(2))); got != Seconds(5) {
		t.Errorf("Add = %v, want %v", got, Seconds(5))
	}
}
