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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"ktrap.dev/ktrap/pkg/abi/linux"
	"ktrap.dev/ktrap/pkg/ktime"
	"ktrap.dev/ktrap/pkg/rtc"
)

// Clock implements subcommands.Command for the "clock" command.
type Clock struct {
	out io.Writer

	mapped    bool
	calibrate bool
	tempCal   int64
	cal       int64
	syncAfter int64
	wallclock uint64
	reset     bool

	// source overrides the host clock source, for tests.
	source ktime.Source
	// rtc overrides the host RTC, for tests.
	rtc rtc.RTC
}

// Name implements subcommands.Command.Name.
func (*Clock) Name() string {
	return "clock"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Clock) Synopsis() string {
	return "read every clock from the host time source"
}

// Usage implements subcommands.Command.Usage.
func (*Clock) Usage() string {
	return `clock [flags] - register the host time source and read every clock.

Calibration factors are signed fixed-point numbers with 32 fractional bits.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Clock) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.mapped, "mapped", false, "publish parameters on a shared mapping instead of Go memory.")
	f.BoolVar(&c.calibrate, "calibrate", false, "apply --temp-cal, --cal and --sync-after before reading.")
	f.Int64Var(&c.tempCal, "temp-cal", 0, "provisional calibration factor.")
	f.Int64Var(&c.cal, "cal", 0, "final calibration factor.")
	f.Int64Var(&c.syncAfter, "sync-after", 0, "milliseconds from now after which --cal supersedes --temp-cal.")
	f.Uint64Var(&c.wallclock, "wallclock", 0, "wall clock time in seconds to calibrate or reset to. Zero means the current realtime.")
	f.BoolVar(&c.reset, "reset-rtc", false, "step realtime to --wallclock.")
}

// Execute implements subcommands.Command.Execute.
func (c *Clock) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := c.run(); err != nil {
		fmt.Fprintf(c.out, "clock: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *Clock) run() error {
	page := ktime.NewParamPage()
	if c.mapped {
		var err error
		if page, err = ktime.NewMappedParamPage(); err != nil {
			return err
		}
		defer page.Close()
	}
	src, srcID := c.source, ktime.SourceSyscall
	if src == nil {
		src, srcID = ktime.HostSource{}, ktime.SourceTSCStable
	}
	r := c.rtc
	if r == nil {
		r = rtc.NewHost()
	}

	clock := ktime.NewClock(page, rtc.NewClock(r))
	clock.RegisterSource(src, srcID)

	wallclock := ktime.Seconds(c.wallclock)
	if c.wallclock == 0 {
		now, err := clock.Read(linux.CLOCK_REALTIME)
		if err != nil {
			return err
		}
		wallclock = now
	}
	if c.reset {
		if err := clock.ResetRTC(wallclock); err != nil {
			return err
		}
	}
	if c.calibrate {
		syncAt := src.Now().Add(int64(ktime.Milliseconds(uint64(max(c.syncAfter, 0)))))
		if err := clock.Adjust(wallclock, c.tempCal, syncAt, c.cal); err != nil {
			return err
		}
	}

	for id := int32(0); id < linux.NumClocks; id++ {
		t, err := clock.Read(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%-24s %v\n", linux.ClockName(id), t)
	}
	v := page.Snapshot()
	fmt.Fprintf(c.out, "params (seq %d, mapped %t):\n", page.Seq(), page.Mapped())
	fmt.Fprintf(c.out, "  cal           %d\n", v.Cal)
	fmt.Fprintf(c.out, "  temp_cal      %d\n", v.TempCal)
	fmt.Fprintf(c.out, "  sync_complete %v\n", v.SyncComplete)
	fmt.Fprintf(c.out, "  last_raw      %v\n", v.LastRaw)
	fmt.Fprintf(c.out, "  last_drift    %d\n", v.LastDrift)
	fmt.Fprintf(c.out, "  rtc_offset    %d\n", v.RTCOffset)
	fmt.Fprintf(c.out, "  clock_source  %v\n", v.ClockSource)
	fmt.Fprintf(c.out, "  precise       %t\n", v.PreciseClocksource)
	return nil
}
