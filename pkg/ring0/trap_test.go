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

package ring0

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func dataAbortFrame() *Frame {
	f := &Frame{}
	f.SetESRSPSR(MakeSyndrome(ECDataAbort, issAbortWnR), KernelFlagsSet)
	f[FrameELR] = 0xffff000000001234
	f[FrameSP] = 0xffff00000001ff00
	f.SetFull(true)
	return f
}

func TestTimerInterrupt(t *testing.T) {
	tk := newTestKernel(t, Options{})
	calls := 0
	tk.Interrupts().Register(48, func() { calls++ }, "timer")
	tk.ctl.pending = []uint32{48}

	c := tk.CPU(0)
	if sig := run(func() { c.Trap(El1Irq, c.KernelFrame()) }); sig != (runloopSignal{}) {
		t.Fatalf("Trap ended with %v, want runloop", sig)
	}
	if calls != 1 {
		t.Errorf("timer handler called %d times, want 1", calls)
	}
	if diff := cmp.Diff([]uint32{48}, tk.ctl.eois); diff != "" {
		t.Errorf("EOIs mismatch (-want +got):\n%s", diff)
	}
	if got := c.Traps(); got != 1 {
		t.Errorf("Traps() = %d, want 1", got)
	}
}

func TestInterruptOutOfRange(t *testing.T) {
	tk := newTestKernel(t, Options{})
	calls := 0
	tk.Interrupts().Register(48, func() { calls++ }, "timer")
	tk.ctl.pending = []uint32{300}

	if sig := run(func() { tk.IRQ(tk.CPU(0)) }); sig != (haltSignal{}) {
		t.Fatalf("IRQ ended with %v, want halt", sig)
	}
	if calls != 0 {
		t.Errorf("handler called %d times, want 0", calls)
	}
	if want := "dispatched interrupt 300 exceeds MAX_INTERRUPT_VECTORS"; !strings.Contains(tk.console.String(), want) {
		t.Errorf("console = %q, want %q", tk.console.String(), want)
	}
	if len(tk.ctl.eois) != 0 {
		t.Errorf("EOIs = %v, want none", tk.ctl.eois)
	}
}

func TestInterruptWithoutHandler(t *testing.T) {
	tk := newTestKernel(t, Options{})
	tk.ctl.pending = []uint32{70}
	if sig := run(func() { tk.IRQ(tk.CPU(0)) }); sig != (haltSignal{}) {
		t.Fatalf("IRQ ended with %v, want halt", sig)
	}
	if want := "no handler for interrupt 70"; !strings.Contains(tk.console.String(), want) {
		t.Errorf("console = %q, want %q", tk.console.String(), want)
	}
}

func TestInterruptState(t *testing.T) {
	tk := newTestKernel(t, Options{})
	c := tk.CPU(0)
	var during CPUState
	tk.Interrupts().Register(40, func() { during = c.State() }, "state")
	tk.ctl.pending = []uint32{40}

	c.SetState(CPUUser)
	run(func() { tk.IRQ(c) })
	if during != CPUInterrupt {
		t.Errorf("state during handler = %v, want %v", during, CPUInterrupt)
	}
	if got := c.State(); got != CPUUser {
		t.Errorf("state after drain = %v, want %v", got, CPUUser)
	}
}

func TestInterruptClearsKernelFrame(t *testing.T) {
	for _, tc := range []struct {
		name     string
		kernel   bool
		wantFull bool
	}{
		{name: "kernel context", kernel: true, wantFull: false},
		{name: "user frame", kernel: false, wantFull: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tk := newTestKernel(t, Options{})
			c := tk.CPU(0)
			f := &Frame{}
			if tc.kernel {
				f = c.KernelFrame()
			}
			f.SetFull(true)
			run(func() { c.Trap(El0Irq, f) })
			if f.Full() != tc.wantFull {
				t.Errorf("Full() = %t, want %t", f.Full(), tc.wantFull)
			}
		})
	}
}

func TestFaultHandlerResume(t *testing.T) {
	tk := newTestKernel(t, Options{NumCPUs: 2})
	resume := &Frame{}
	var got *Frame
	tk.InstallFallbackFaultHandler(func(f *Frame) *Frame {
		got = f
		return resume
	})

	c := tk.CPU(1)
	f := dataAbortFrame()
	sig := run(func() { c.Trap(El1Sync, f) })
	if sig != (frameReturnSignal{resume}) {
		t.Fatalf("Trap ended with %v, want frame return", sig)
	}
	if got != f {
		t.Errorf("fault handler got frame %p, want %p", got, f)
	}
	if tk.console.Len() != 0 {
		t.Errorf("unexpected console output: %q", tk.console.String())
	}
	if !f.Full() {
		t.Errorf("frame was modified before the handler ran")
	}
}

func TestFaultHandlerRunloop(t *testing.T) {
	tk := newTestKernel(t, Options{})
	c := tk.CPU(0)
	c.SetFaultHandler(func(*Frame) *Frame { return nil })

	f := c.KernelFrame()
	*f = *dataAbortFrame()
	if sig := run(func() { c.Trap(El1Sync, f) }); sig != (runloopSignal{}) {
		t.Fatalf("Trap ended with %v, want runloop", sig)
	}
	if f.Full() {
		t.Errorf("kernel frame still full after returning to the run loop")
	}
}

func TestNoFaultHandler(t *testing.T) {
	tk := newTestKernel(t, Options{
		Memory: fakeMemory{
			0xffff00000001ff00: 0xffff000000004000,
			0xffff00000001ff08: 7,
		},
		Symbolizer: fakeSymbolizer{{name: "copyin", start: 0xffff000000001200, end: 0xffff000000001300}},
	})
	tk.machine.far = 0xdead0000
	c := tk.CPU(0)
	if sig := run(func() { c.Trap(El1Sync, dataAbortFrame()) }); sig != (haltSignal{}) {
		t.Fatalf("Trap ended with %v, want halt", sig)
	}
	out := tk.console.String()
	for _, want := range []string{
		"no fault handler for frame",
		"data abort in el1 write",
		"       far: 00000000dead0000",
		"       elr: ffff000000001234 (copyin+0x34)",
		"frame trace: \n",
		"stack trace:\nffff00000001ff00:   ffff000000004000\nffff00000001ff08:   0000000000000007\n",
		"halt: synchronous: unhandled",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console missing %q:\n%s", want, out)
		}
	}
}

func TestSyscall(t *testing.T) {
	var got *Frame
	tk := newTestKernel(t, Options{
		Syscall: func(f *Frame) {
			got = f
			panic(syscallSignal{f})
		},
	})
	c := tk.CPU(0)
	f := &Frame{}
	f.SetESRSPSR(MakeSyndrome(ECSVC64, 0), UserFlagsSet)
	f.SetReg(FrameX8, 64)

	if sig := run(func() { c.Trap(El0Sync, f) }); sig != (syscallSignal{f}) {
		t.Fatalf("Trap ended with %v, want syscall", sig)
	}
	if got.Vector() != 64 {
		t.Errorf("syscall frame vector = %d, want 64", got.Vector())
	}
	if c.RunningFrame() != c.KernelFrame() {
		t.Errorf("running frame is not the kernel frame")
	}
	if tk.machine.switched != c.KernelFrame() {
		t.Errorf("syscall did not run on the kernel stack")
	}
}

func TestSyscallReturned(t *testing.T) {
	tk := newTestKernel(t, Options{Syscall: func(*Frame) {}})
	c := tk.CPU(0)
	f := &Frame{}
	f.SetESRSPSR(MakeSyndrome(ECSVC64, 0), UserFlagsSet)
	if sig := run(func() { c.Trap(El0Sync, f) }); sig != (haltSignal{}) {
		t.Fatalf("Trap ended with %v, want halt", sig)
	}
	if !strings.Contains(tk.console.String(), "syscall returned") {
		t.Errorf("console = %q, want syscall returned", tk.console.String())
	}
}

func TestSVCWithImmediateIsFault(t *testing.T) {
	tk := newTestKernel(t, Options{Syscall: func(f *Frame) { panic(syscallSignal{f}) }})
	c := tk.CPU(0)
	faults := 0
	c.SetFaultHandler(func(*Frame) *Frame {
		faults++
		return nil
	})
	f := &Frame{}
	f.SetESRSPSR(MakeSyndrome(ECSVC64, 1), UserFlagsSet)
	if sig := run(func() { c.Trap(El0Sync, f) }); sig != (runloopSignal{}) {
		t.Fatalf("Trap ended with %v, want runloop", sig)
	}
	if faults != 1 {
		t.Errorf("fault handler called %d times, want 1", faults)
	}
}

func TestFatalVectors(t *testing.T) {
	for _, v := range []Vector{El1Err, El0Err, El1InvSync, El1Fiq, El0InvIrq} {
		t.Run(v.String(), func(t *testing.T) {
			tk := newTestKernel(t, Options{})
			c := tk.CPU(0)
			c.SetFaultHandler(func(f *Frame) *Frame { return f })
			if sig := run(func() { c.Trap(v, &Frame{}) }); sig != (haltSignal{}) {
				t.Fatalf("Trap ended with %v, want halt", sig)
			}
		})
	}
}

func TestArmTimer(t *testing.T) {
	for _, tc := range []struct {
		name     string
		pending  bool
		wantSig  any
		wantTick int
	}{
		{name: "pending", pending: true, wantSig: runloopSignal{}, wantTick: 1},
		{name: "spurious", pending: false, wantSig: haltSignal{}, wantTick: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			timer := &fakeTimer{pending: tc.pending}
			ticks := 0
			tk := newTestKernel(t, Options{
				Timer:       timer,
				TimerVector: 48,
				OnTimer:     func() { ticks++ },
			})
			if diff := cmp.Diff([]string{"arm timer"}, tk.Interrupts().Handlers(48)); diff != "" {
				t.Errorf("Handlers mismatch (-want +got):\n%s", diff)
			}
			tk.ctl.pending = []uint32{48}
			if sig := run(func() { tk.IRQ(tk.CPU(0)) }); sig != tc.wantSig {
				t.Fatalf("IRQ ended with %v, want %v", sig, tc.wantSig)
			}
			if ticks != tc.wantTick {
				t.Errorf("OnTimer called %d times, want %d", ticks, tc.wantTick)
			}
			if timer.disarms != tc.wantTick {
				t.Errorf("timer disarmed %d times, want %d", timer.disarms, tc.wantTick)
			}
		})
	}
}

func TestNewKernelTimerSetup(t *testing.T) {
	ctl := &fakeController{}
	m := &fakeMachine{}
	k, err := NewKernel(Options{
		NumCPUs:     4,
		Machine:     m,
		Controller:  ctl,
		Timer:       &fakeTimer{},
		TimerVector: 48,
	})
	if err != nil {
		t.Fatalf("NewKernel failed: %v", err)
	}
	if k.NumCPUs() != 4 {
		t.Errorf("NumCPUs() = %d, want 4", k.NumCPUs())
	}
	if m.vectorBase != 1 {
		t.Errorf("vector base installed %d times, want 1", m.vectorBase)
	}
	want := []string{
		"init",
		"config 48 0",
		"priority 48 0",
		"target 48 1",
		"priority 48 0",
		"clear 48",
		"enable 48",
	}
	if diff := cmp.Diff(want, ctl.calls); diff != "" {
		t.Errorf("controller calls mismatch (-want +got):\n%s", diff)
	}
	// The timer vector is never handed out.
	if k.Interrupts().ReserveVector(48) {
		t.Errorf("timer vector was not reserved")
	}
}

func TestNewKernelErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts Options
	}{
		{name: "no machine", opts: Options{Controller: &fakeController{}}},
		{name: "no controller", opts: Options{Machine: &fakeMachine{}}},
		{name: "negative cpus", opts: Options{Machine: &fakeMachine{}, Controller: &fakeController{}, NumCPUs: -1}},
		{name: "exception timer vector", opts: Options{Machine: &fakeMachine{}, Controller: &fakeController{}, Timer: &fakeTimer{}, TimerVector: DefaultTimerVector}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewKernel(tc.opts); err == nil {
				t.Errorf("NewKernel succeeded, want error")
			}
		})
	}
}

type fakeTimer struct {
	pending bool
	disarms int
}

func (ft *fakeTimer) Pending() bool { return ft.pending }

func (ft *fakeTimer) Disarm() {
	ft.disarms++
	ft.pending = false
}
