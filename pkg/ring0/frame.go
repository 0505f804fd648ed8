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

// Frame slot indices.
//
// The layout is shared with the exception entry code, which saves and
// restores registers by these offsets (slot * 8).
const (
	FrameX0  = 0
	FrameX8  = 8
	FrameX29 = 29
	FrameX30 = 30

	// FrameSP is the stack pointer at the time of the trap.
	FrameSP = 31

	// FrameESRSPSR holds ESR_EL1 in the upper 32 bits and SPSR_EL1 in
	// the lower 32 bits.
	FrameESRSPSR = 32

	// FrameELR is the exception link register.
	FrameELR = 33

	// FrameVector is the trapped vector. For system calls it is
	// overwritten with the system call number.
	FrameVector = 34

	// FrameEL is the exception level the trap was taken from.
	FrameEL = 35

	// FrameFull is non-zero while the frame holds live register state that
	// must be restored.
	FrameFull = 36

	// FrameFaultHandler is reserved for the fallback fault handler. The
	// handler itself lives in the CPU so that it is visible to the garbage
	// collector; the slot is kept so the layout matches the entry code.
	FrameFaultHandler = 37

	// FrameSize is the number of slots in a frame.
	FrameSize = 38

	// FrameGPRegs is the number of general purpose slots, including SP.
	FrameGPRegs = 32
)

// Frame is a saved trap frame.
type Frame [FrameSize]uint64

// Reg returns general purpose register i (0 through 30), or SP for i == 31.
//
//go:nosplit
func (f *Frame) Reg(i int) uint64 {
	return f[i]
}

// SetReg sets general purpose register i.
//
//go:nosplit
func (f *Frame) SetReg(i int, v uint64) {
	f[i] = v
}

// SP returns the saved stack pointer.
//
//go:nosplit
func (f *Frame) SP() uint64 {
	return f[FrameSP]
}

// FramePointer returns the saved frame pointer (x29).
//
//go:nosplit
func (f *Frame) FramePointer() uint64 {
	return f[FrameX29]
}

// ESR returns the saved exception syndrome.
//
//go:nosplit
func (f *Frame) ESR() Syndrome {
	return Syndrome(f[FrameESRSPSR] >> 32)
}

// SPSR returns the saved program status.
//
//go:nosplit
func (f *Frame) SPSR() uint32 {
	return uint32(f[FrameESRSPSR])
}

// SetESRSPSR sets the packed syndrome/status slot.
func (f *Frame) SetESRSPSR(esr Syndrome, spsr uint32) {
	f[FrameESRSPSR] = uint64(esr)<<32 | uint64(spsr)
}

// ELR returns the exception link register.
//
//go:nosplit
func (f *Frame) ELR() uint64 {
	return f[FrameELR]
}

// Vector returns the vector slot.
//
//go:nosplit
func (f *Frame) Vector() uint64 {
	return f[FrameVector]
}

// SetVector sets the vector slot.
//
//go:nosplit
func (f *Frame) SetVector(v uint64) {
	f[FrameVector] = v
}

// EL returns the exception level the trap was taken from.
//
//go:nosplit
func (f *Frame) EL() uint64 {
	return f[FrameEL]
}

// Full returns whether the frame holds live state.
//
//go:nosplit
func (f *Frame) Full() bool {
	return f[FrameFull] != 0
}

// SetFull sets the full flag.
//
//go:nosplit
func (f *Frame) SetFull(full bool) {
	if full {
		f[FrameFull] = 1
	} else {
		f[FrameFull] = 0
	}
}
