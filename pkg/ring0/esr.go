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
	"fmt"
	"strings"
)

// ESR_EL1 fields.
const (
	esrECShift = 26
	esrECMask  = 0x3f
	esrIL      = 1 << 25
	esrISSMask = 1<<25 - 1
	esrImm16   = 0xffff

	// Data and instruction abort ISS bits.
	issAbortFnV = 1 << 10
	issAbortCM  = 1 << 8
	issAbortWnR = 1 << 6
)

// ExceptionClass is the ESR_EL1.EC field.
type ExceptionClass uint32

// Exception classes.
const (
	ECUnknown           ExceptionClass = 0x00
	ECWFx               ExceptionClass = 0x01
	ECFPAccess          ExceptionClass = 0x07
	ECIllegalExecution  ExceptionClass = 0x0e
	ECSVC64             ExceptionClass = 0x15
	ECHVC64             ExceptionClass = 0x16
	ECSMC64             ExceptionClass = 0x17
	ECSysReg            ExceptionClass = 0x18
	ECSVEAccess         ExceptionClass = 0x19
	ECInstAbortLowerEL  ExceptionClass = 0x20
	ECInstAbort         ExceptionClass = 0x21
	ECPCAlignment       ExceptionClass = 0x22
	ECDataAbortLowerEL  ExceptionClass = 0x24
	ECDataAbort         ExceptionClass = 0x25
	ECSPAlignment       ExceptionClass = 0x26
	ECFPException64     ExceptionClass = 0x2c
	ECSError            ExceptionClass = 0x2f
	ECBreakpointLowerEL ExceptionClass = 0x30
	ECBreakpoint        ExceptionClass = 0x31
	ECSoftStepLowerEL   ExceptionClass = 0x32
	ECSoftStep          ExceptionClass = 0x33
	ECWatchpointLowerEL ExceptionClass = 0x34
	ECWatchpoint        ExceptionClass = 0x35
	ECBRK64             ExceptionClass = 0x3c
)

var classNames = map[ExceptionClass]string{
	ECUnknown:           "unknown",
	ECWFx:               "wfi/wfe",
	ECFPAccess:          "fp access",
	ECIllegalExecution:  "illegal execution",
	ECSVC64:             "svc",
	ECHVC64:             "hvc",
	ECSMC64:             "smc",
	ECSysReg:            "system register access",
	ECSVEAccess:         "sve access",
	ECInstAbortLowerEL:  "instruction abort in el0",
	ECInstAbort:         "instruction abort in el1",
	ECPCAlignment:       "pc alignment",
	ECDataAbortLowerEL:  "data abort in el0",
	ECDataAbort:         "data abort in el1",
	ECSPAlignment:       "sp alignment",
	ECFPException64:     "fp exception",
	ECSError:            "serror interrupt",
	ECBreakpointLowerEL: "breakpoint in el0",
	ECBreakpoint:        "breakpoint in el1",
	ECSoftStepLowerEL:   "software step in el0",
	ECSoftStep:          "software step in el1",
	ECWatchpointLowerEL: "watchpoint in el0",
	ECWatchpoint:        "watchpoint in el1",
	ECBRK64:             "brk",
}

// String returns a human readable name.
func (ec ExceptionClass) String() string {
	if s, ok := classNames[ec]; ok {
		return s
	}
	return fmt.Sprintf("class %#x", uint32(ec))
}

// Syndrome is a raw ESR_EL1 value.
type Syndrome uint32

// MakeSyndrome builds a syndrome from its fields. The instruction length
// bit is set, as it is for every AArch64 trap.
func MakeSyndrome(ec ExceptionClass, iss uint32) Syndrome {
	return Syndrome(uint32(ec)<<esrECShift | esrIL | iss&esrISSMask)
}

// Class returns the exception class.
//
//go:nosplit
func (s Syndrome) Class() ExceptionClass {
	return ExceptionClass(uint32(s) >> esrECShift & esrECMask)
}

// IL returns the instruction length bit.
//
//go:nosplit
func (s Syndrome) IL() bool {
	return s&esrIL != 0
}

// ISS returns the instruction specific syndrome.
//
//go:nosplit
func (s Syndrome) ISS() uint32 {
	return uint32(s) & esrISSMask
}

// Imm16 returns the immediate of an SVC/HVC/SMC/BRK instruction.
//
//go:nosplit
func (s Syndrome) Imm16() uint32 {
	return uint32(s) & esrImm16
}

// IsSyscall returns true for "svc #0" executed in AArch64 state.
//
//go:nosplit
func (s Syndrome) IsSyscall() bool {
	return s.Class() == ECSVC64 && s.IL() && s.Imm16() == 0
}

// IsAbort returns true for instruction and data aborts.
func (s Syndrome) IsAbort() bool {
	switch s.Class() {
	case ECInstAbort, ECInstAbortLowerEL, ECDataAbort, ECDataAbortLowerEL:
		return true
	}
	return false
}

// FARValid returns whether FAR_EL1 holds the faulting address.
func (s Syndrome) FARValid() bool {
	return s.IsAbort() && s.ISS()&issAbortFnV == 0
}

// Write returns whether a data abort was caused by a write.
func (s Syndrome) Write() bool {
	return s.ISS()&issAbortWnR != 0
}

// CacheMaintenance returns whether a data abort was caused by a cache
// maintenance instruction.
func (s Syndrome) CacheMaintenance() bool {
	return s.ISS()&issAbortCM != 0
}

// String describes the syndrome the way the fault dump prints it.
func (s Syndrome) String() string {
	var b strings.Builder
	ec := s.Class()
	b.WriteString(ec.String())
	switch ec {
	case ECDataAbort, ECDataAbortLowerEL:
		if s.Write() {
			b.WriteString(" write")
		} else {
			b.WriteString(" read")
		}
		if s.CacheMaintenance() {
			b.WriteString(" cache")
		}
	case ECSVC64, ECHVC64, ECSMC64, ECBRK64:
		fmt.Fprintf(&b, " #%d", s.Imm16())
	}
	return b.String()
}
