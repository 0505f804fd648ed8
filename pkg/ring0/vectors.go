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

import "fmt"

const (
	// DAIF bits:debug, sError, IRQ, FIQ.
	_PSR_D_BIT      = 0x00000200
	_PSR_A_BIT      = 0x00000100
	_PSR_I_BIT      = 0x00000080
	_PSR_F_BIT      = 0x00000040
	_PSR_DAIF_SHIFT = 6
	_PSR_DAIF_MASK  = 0xf << _PSR_DAIF_SHIFT

	// PSR bits.
	_PSR_MODE_EL0t = 0x00000000
	_PSR_MODE_EL1t = 0x00000004
	_PSR_MODE_EL1h = 0x00000005
	_PSR_MODE_MASK = 0x0000000f
	_PSR_EL_SHIFT  = 2
	_PSR_EL_MASK   = 0x3

	// KernelFlagsSet should always be set in the kernel.
	KernelFlagsSet = _PSR_MODE_EL1h | _PSR_D_BIT | _PSR_A_BIT | _PSR_I_BIT | _PSR_F_BIT

	// UserFlagsSet are always set in userspace.
	UserFlagsSet = _PSR_MODE_EL0t
)

// ExceptionLevel returns the exception level encoded in spsr.
//
//go:nosplit
func ExceptionLevel(spsr uint32) uint64 {
	return uint64(spsr>>_PSR_EL_SHIFT) & _PSR_EL_MASK
}

// InterruptsMasked returns whether IRQs were masked in spsr.
//
//go:nosplit
func InterruptsMasked(spsr uint32) bool {
	return spsr&_PSR_I_BIT != 0
}

// Vector is an exception vector table slot.
//
// The table has sixteen architectural entries: four trap kinds (synchronous,
// IRQ, FIQ, SError) for each of current EL with SP_EL0, current EL with
// SP_ELx, lower EL in AArch64 and lower EL in AArch32.
type Vector uintptr

// Exception vectors.
const (
	El1InvSync Vector = iota
	El1InvIrq
	El1InvFiq
	El1InvError

	El1Sync
	El1Irq
	El1Fiq
	El1Err

	El0Sync
	El0Irq
	El0Fiq
	El0Err

	El0InvSync
	El0InvIrq
	El0InvFiq
	El0InvErr

	_NR_VECTORS
)

var vectorNames = [...]string{
	El1InvSync:  "el1t sync",
	El1InvIrq:   "el1t irq",
	El1InvFiq:   "el1t fiq",
	El1InvError: "el1t error",
	El1Sync:     "el1 sync",
	El1Irq:      "el1 irq",
	El1Fiq:      "el1 fiq",
	El1Err:      "el1 error",
	El0Sync:     "el0 sync",
	El0Irq:      "el0 irq",
	El0Fiq:      "el0 fiq",
	El0Err:      "el0 error",
	El0InvSync:  "el0 aarch32 sync",
	El0InvIrq:   "el0 aarch32 irq",
	El0InvFiq:   "el0 aarch32 fiq",
	El0InvErr:   "el0 aarch32 error",
}

// String implements fmt.Stringer.
func (v Vector) String() string {
	if int(v) < len(vectorNames) {
		return vectorNames[v]
	}
	return fmt.Sprintf("vector %d", uintptr(v))
}

// TrapKind classifies a vector table slot.
type TrapKind int

// Trap kinds.
const (
	TrapInvalid TrapKind = iota
	TrapSynchronous
	TrapIRQ
	TrapSError
)

// Kind returns how the router treats v.
//
// FIQs are not routed, and neither are traps taken with SP_EL0 at EL1 or
// from AArch32 state.
func (v Vector) Kind() TrapKind {
	switch v {
	case El1Sync, El0Sync:
		return TrapSynchronous
	case El1Irq, El0Irq:
		return TrapIRQ
	case El1Err, El0Err:
		return TrapSError
	default:
		return TrapInvalid
	}
}
