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
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"ktrap.dev/ktrap/pkg/ring0"
)

// Decode implements subcommands.Command for the "decode" command.
type Decode struct {
	out io.Writer

	spsr string
}

// Name implements subcommands.Command.Name.
func (*Decode) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decode) Synopsis() string {
	return "decode exception syndrome values"
}

// Usage implements subcommands.Command.Usage.
func (*Decode) Usage() string {
	return `decode [flags] <esr>... - decode ESR_EL1 values.

Values may be given in decimal, or in hex with a 0x prefix.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Decode) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.spsr, "spsr", "", "also decode this SPSR_EL1 value.")
}

// Execute implements subcommands.Command.Execute.
func (d *Decode) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 && d.spsr == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	for _, arg := range f.Args() {
		v, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			fmt.Fprintf(d.out, "%s: invalid syndrome: %v\n", arg, err)
			return subcommands.ExitFailure
		}
		fmt.Fprintln(d.out, describeSyndrome(ring0.Syndrome(v)))
	}
	if d.spsr != "" {
		v, err := strconv.ParseUint(d.spsr, 0, 32)
		if err != nil {
			fmt.Fprintf(d.out, "%s: invalid spsr: %v\n", d.spsr, err)
			return subcommands.ExitFailure
		}
		fmt.Fprintln(d.out, describeSPSR(uint32(v)))
	}
	return subcommands.ExitSuccess
}

// describeSyndrome returns a one line description of esr.
func describeSyndrome(esr ring0.Syndrome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "esr %#08x: %v (class %#02x", uint32(esr), esr, uint32(esr.Class()))
	if esr.IL() {
		b.WriteString(", 32-bit")
	} else {
		b.WriteString(", 16-bit")
	}
	fmt.Fprintf(&b, ", iss %#x)", esr.ISS())
	switch {
	case esr.IsSyscall():
		b.WriteString(" syscall")
	case esr.IsAbort() && esr.FARValid():
		b.WriteString(" far valid")
	case esr.IsAbort():
		b.WriteString(" far invalid")
	}
	return b.String()
}

// describeSPSR returns a one line description of spsr.
func describeSPSR(spsr uint32) string {
	masked := "unmasked"
	if ring0.InterruptsMasked(spsr) {
		masked = "masked"
	}
	return fmt.Sprintf("spsr %#08x: EL%d, irqs %s", spsr, ring0.ExceptionLevel(spsr), masked)
}
