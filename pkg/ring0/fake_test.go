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
	"bytes"
	"fmt"
	"testing"
)

// Control transfers that never return on hardware unwind the test
// goroutine with one of these.
type (
	haltSignal        struct{}
	runloopSignal     struct{}
	frameReturnSignal struct{ f *Frame }
	syscallSignal     struct{ f *Frame }
)

type fakeMachine struct {
	vectorBase int
	far        uint64
	fp         uint64
	halts      int
	switched   *Frame
}

func (m *fakeMachine) SetVectorBase() { m.vectorBase++ }
func (m *fakeMachine) FaultAddress(*CPU) uint64 { return m.far }
func (m *fakeMachine) FramePointer(*CPU) uint64 { return m.fp }
func (m *fakeMachine) FrameReturn(_ *CPU, f *Frame) { panic(frameReturnSignal{f}) }
func (m *fakeMachine) Runloop(*CPU) { panic(runloopSignal{}) }
func (m *fakeMachine) Halt(*CPU) {
	m.halts++
	panic(haltSignal{})
}
func (m *fakeMachine) SwitchStack(_ *CPU, stack *Frame, entry func(*Frame), arg *Frame) {
	m.switched = stack
	entry(arg)
}

type fakeController struct {
	calls   []string
	pending []uint32
	eois    []uint32
}

func (fc *fakeController) record(format string, v ...any) {
	fc.calls = append(fc.calls, fmt.Sprintf(format, v...))
}

func (fc *fakeController) Init() { fc.record("init") }

func (fc *fakeController) Dispatch() (uint32, bool) {
	if len(fc.pending) == 0 {
		return 0, false
	}
	id := fc.pending[0]
	fc.pending = fc.pending[1:]
	return id, true
}

func (fc *fakeController) EOI(id uint32) { fc.eois = append(fc.eois, id) }
func (fc *fakeController) Enable(id uint32) { fc.record("enable %d", id) }
func (fc *fakeController) Disable(id uint32) { fc.record("disable %d", id) }
func (fc *fakeController) SetPriority(id uint32, p uint8) { fc.record("priority %d %d", id, p) }
func (fc *fakeController) SetConfig(id uint32, c TriggerConfig) { fc.record("config %d %d", id, c) }
func (fc *fakeController) SetTarget(id, core uint32) { fc.record("target %d %d", id, core) }
func (fc *fakeController) ClearPending(id uint32) { fc.record("clear %d", id) }

type fakeMemory map[uint64]uint64

func (m fakeMemory) Validate(addr, size uint64) bool {
	_, ok := m[addr]
	return ok
}

func (m fakeMemory) Load64(addr uint64) (uint64, bool) {
	v, ok := m[addr]
	return v, ok
}

type fakeSymbol struct {
	name       string
	start, end uint64
}

type fakeSymbolizer []fakeSymbol

func (s fakeSymbolizer) Lookup(addr uint64) (string, uint64, bool) {
	for _, sym := range s {
		if addr >= sym.start && addr < sym.end {
			return sym.name, addr - sym.start, true
		}
	}
	return "", 0, false
}

type testKernel struct {
	*Kernel
	machine *fakeMachine
	ctl     *fakeController
	console *bytes.Buffer
}

func newTestKernel(t *testing.T, opts Options) *testKernel {
	t.Helper()
	tk := &testKernel{
		machine: &fakeMachine{},
		ctl:     &fakeController{},
		console: &bytes.Buffer{},
	}
	opts.Machine = tk.machine
	opts.Controller = tk.ctl
	opts.Console = tk.console
	k, err := NewKernel(opts)
	if err != nil {
		t.Fatalf("NewKernel failed: %v", err)
	}
	tk.Kernel = k
	tk.ctl.calls = nil
	return tk
}

// run calls fn and returns the value it unwound with, or nil if it
// returned normally.
func run(fn func()) (sig any) {
	defer func() {
		sig = recover()
	}()
	fn()
	return nil
}
