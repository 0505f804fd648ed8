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

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	yaml "gopkg.in/yaml.v2"
	"ktrap.dev/ktrap/pkg/ring0"
)

// TimerDevice is the device name that raises the architectural timer.
const TimerDevice = "timer"

// Platform describes a simulated machine.
//
// A platform file looks like:
//
//	cpus = 2
//	timer_vector = 48
//	tick_ms = 10
//
//	[[device]]
//	name = "uart"
//	vector = 33
//	priority = 16
//
//	[[step]]
//	cpu = 0
//	raise = ["uart", "timer"]
//	repeat = 3
type Platform struct {
	// NumCPUs is the number of simulated CPUs.
	NumCPUs int `toml:"cpus" yaml:"cpus"`

	// TimerVector is the interrupt vector of the architectural timer. Zero
	// disables the timer.
	TimerVector uint32 `toml:"timer_vector" yaml:"timer_vector"`

	// TickMS is how far the simulated clock advances per timer tick.
	TickMS uint64 `toml:"tick_ms" yaml:"tick_ms"`

	// Reserved lists vectors taken out of the allocator up front.
	Reserved []uint32 `toml:"reserved_vectors" yaml:"reserved_vectors"`

	// Devices are the interrupt sources.
	Devices []Device `toml:"device" yaml:"device"`

	// Steps is the interrupt script.
	Steps []Step `toml:"step" yaml:"step"`
}

// Device is a simulated interrupt source.
type Device struct {
	// Name identifies the device in steps.
	Name string `toml:"name" yaml:"name"`

	// Vector is the interrupt vector. Zero means allocate one.
	Vector uint32 `toml:"vector" yaml:"vector"`

	// Priority is the controller priority. Zero is the highest.
	Priority uint8 `toml:"priority" yaml:"priority"`

	// Handlers is the number of handlers sharing the vector. Zero means
	// one.
	Handlers int `toml:"handlers" yaml:"handlers"`

	// Edge selects edge triggering instead of level.
	Edge bool `toml:"edge" yaml:"edge"`
}

// Step is one entry of the interrupt script.
type Step struct {
	// CPU is the CPU that takes the traps.
	CPU int `toml:"cpu" yaml:"cpu"`

	// Raise names the devices to raise before trapping.
	Raise []string `toml:"raise" yaml:"raise"`

	// User takes the trap from EL0 instead of EL1.
	User bool `toml:"user" yaml:"user"`

	// Syscall, if set, issues a system call with this number instead of an
	// interrupt.
	Syscall *uint64 `toml:"syscall" yaml:"syscall"`

	// Fault, if non-zero, takes a data abort at this address instead of an
	// interrupt.
	Fault uint64 `toml:"fault" yaml:"fault"`

	// Repeat runs the step this many times. Zero means once.
	Repeat int `toml:"repeat" yaml:"repeat"`
}

// Count returns how many times the step runs.
func (s *Step) Count() int {
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// DefaultPlatform returns a platform with one CPU, a timer and no devices.
func DefaultPlatform() *Platform {
	return &Platform{
		NumCPUs:     1,
		TimerVector: 48,
		TickMS:      10,
	}
}

// LoadPlatform reads a platform file. Files ending in .yaml or .yml are
// YAML; anything else is TOML. Unset fields keep the values of
// DefaultPlatform.
func LoadPlatform(path string) (*Platform, error) {
	p := DefaultPlatform()
	var err error
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = decodeYAML(path, p)
	default:
		err = decodeTOML(path, p)
	}
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("platform %q: %w", path, err)
	}
	return p, nil
}

func decodeTOML(path string, p *Platform) error {
	md, err := toml.DecodeFile(path, p)
	if err != nil {
		return fmt.Errorf("loading platform %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("platform %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(path string, p *Platform) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("loading platform %q: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.SetStrict(true)
	// An empty file keeps the defaults.
	if err := dec.Decode(p); err != nil && err != io.EOF {
		return fmt.Errorf("loading platform %q: %w", path, err)
	}
	return nil
}

// Validate checks the platform for consistency.
func (p *Platform) Validate() error {
	if p.NumCPUs <= 0 {
		return fmt.Errorf("invalid CPU count %d", p.NumCPUs)
	}
	if p.TimerVector != 0 && (p.TimerVector < ring0.InterruptVectorStart || p.TimerVector >= ring0.MaxInterruptVectors) {
		return fmt.Errorf("timer vector %d outside [%d, %d)", p.TimerVector, ring0.InterruptVectorStart, ring0.MaxInterruptVectors)
	}
	reserved := make(map[uint32]bool, len(p.Reserved))
	for _, v := range p.Reserved {
		reserved[v] = true
	}
	names := map[string]bool{TimerDevice: p.TimerVector != 0}
	for i, d := range p.Devices {
		if d.Name == "" || d.Name == TimerDevice {
			return fmt.Errorf("device %d: invalid name %q", i, d.Name)
		}
		if names[d.Name] {
			return fmt.Errorf("device %d: duplicate name %q", i, d.Name)
		}
		names[d.Name] = true
		if d.Vector != 0 && (d.Vector < ring0.InterruptVectorStart || d.Vector >= ring0.MaxInterruptVectors) {
			return fmt.Errorf("device %q: vector %d outside [%d, %d)", d.Name, d.Vector, ring0.InterruptVectorStart, ring0.MaxInterruptVectors)
		}
		// Devices may share a vector with each other, but not with the
		// timer or a reserved vector.
		if d.Vector != 0 && p.TimerVector != 0 && d.Vector == p.TimerVector {
			return fmt.Errorf("device %q: vector %d is the timer vector", d.Name, d.Vector)
		}
		if d.Vector != 0 && reserved[d.Vector] {
			return fmt.Errorf("device %q: vector %d is reserved", d.Name, d.Vector)
		}
		if d.Handlers < 0 {
			return fmt.Errorf("device %q: invalid handler count %d", d.Name, d.Handlers)
		}
	}
	for i, s := range p.Steps {
		if s.CPU < 0 || s.CPU >= p.NumCPUs {
			return fmt.Errorf("step %d: no CPU %d", i, s.CPU)
		}
		for _, name := range s.Raise {
			if !names[name] {
				return fmt.Errorf("step %d: unknown device %q", i, name)
			}
		}
		kinds := 0
		if len(s.Raise) > 0 {
			kinds++
		}
		if s.Syscall != nil {
			kinds++
		}
		if s.Fault != 0 {
			kinds++
		}
		if kinds > 1 {
			return fmt.Errorf("step %d: raise, syscall and fault are exclusive", i)
		}
	}
	return nil
}
