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
	"os"
	"sort"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"ktrap.dev/ktrap/cmd/ktrap/config"
	"ktrap.dev/ktrap/pkg/abi/linux"
	"ktrap.dev/ktrap/pkg/atomicbitops"
	"ktrap.dev/ktrap/pkg/gic"
	"ktrap.dev/ktrap/pkg/ktime"
	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/ring0"
	"ktrap.dev/ktrap/pkg/rtc"
	"ktrap.dev/ktrap/pkg/sync"
)

// heartbeatPeriod is the period of the simulated kernel's periodic timer.
const heartbeatPeriod = 100 // ms

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	out io.Writer

	platform string
	metrics  string
}

// Name implements subcommands.Command.Name.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Simulate) Synopsis() string {
	return "route a scripted sequence of traps through a simulated platform"
}

// Usage implements subcommands.Command.Usage.
func (*Simulate) Usage() string {
	return `simulate [--config <platform.toml>] - run the trap script of a simulated platform.

Each CPU runs its part of the script concurrently. When the script is done,
per-vector dispatch counts and clock state are printed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.platform, "config", "", "platform file; the default platform has one CPU and a timer.")
	f.StringVar(&s.metrics, "metrics", "", "also write counters in the Prometheus text format to this file.")
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := confFrom(args)
	p := config.DefaultPlatform()
	if s.platform != "" {
		var err error
		if p, err = config.LoadPlatform(s.platform); err != nil {
			fmt.Fprintf(s.out, "%v\n", err)
			return subcommands.ExitFailure
		}
	}
	console, closeConsole, err := consoleFor(conf, s.out)
	if err != nil {
		fmt.Fprintf(s.out, "%v\n", err)
		return subcommands.ExitFailure
	}
	defer closeConsole()

	sim, err := newSimulator(p, console)
	if err != nil {
		fmt.Fprintf(s.out, "%v\n", err)
		return subcommands.ExitFailure
	}
	runErr := sim.run()
	sim.report(s.out)
	if s.metrics != "" {
		if err := writeMetricsFile(s.metrics, sim); err != nil {
			fmt.Fprintf(s.out, "%v\n", err)
			return subcommands.ExitFailure
		}
	}
	if runErr != nil {
		fmt.Fprintf(s.out, "simulation failed: %v\n", runErr)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func writeMetricsFile(path string, sim *simulator) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating metrics file: %w", err)
	}
	if err := sim.writeMetrics(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// yield unwinds a simulated trap back to the CPU's script loop. It stands
// in for the transfers of control that do not return on hardware.
type yield struct{}

// halted unwinds a simulated CPU that halted.
type halted struct {
	cpu int
}

// simMachine implements ring0.Machine for simulated CPUs.
type simMachine struct {
	far []atomicbitops.Uint64
}

func (*simMachine) SetVectorBase() {}

func (m *simMachine) FaultAddress(c *ring0.CPU) uint64 {
	return m.far[c.ID].Load()
}

func (*simMachine) FramePointer(*ring0.CPU) uint64 { return 0 }

func (*simMachine) SwitchStack(_ *ring0.CPU, _ *ring0.Frame, entry func(*ring0.Frame), arg *ring0.Frame) {
	entry(arg)
	panic(yield{})
}

func (*simMachine) FrameReturn(*ring0.CPU, *ring0.Frame) { panic(yield{}) }

func (*simMachine) Runloop(*ring0.CPU) { panic(yield{}) }

func (*simMachine) Halt(c *ring0.CPU) {
	id := -1
	if c != nil {
		id = int(c.ID)
	}
	panic(halted{cpu: id})
}

// simTimer implements ring0.TimerDevice. Every raise asserts the timer
// condition once; every disarm consumes one.
type simTimer struct {
	asserted atomicbitops.Int64
}

func (t *simTimer) Pending() bool { return t.asserted.Load() > 0 }

func (t *simTimer) Disarm() { t.asserted.Add(-1) }

// simulator runs a platform script.
type simulator struct {
	p       *config.Platform
	dist    *gic.Distributor
	machine *simMachine
	timer   *simTimer
	kernel  *ring0.Kernel

	// vectors maps device names to interrupt vectors.
	vectors map[string]uint32

	// handled counts handler invocations per handler name.
	handled map[string]*atomicbitops.Uint64

	clock      *ktime.Clock
	queue      *ktime.TimerQueue
	raw        atomicbitops.Uint64
	tick       ktime.Timestamp
	ticks      atomicbitops.Uint64
	heartbeats atomicbitops.Uint64

	mu       sync.Mutex
	syscalls map[uint64]uint64
	faults   []string
}

func newSimulator(p *config.Platform, console io.Writer) (*simulator, error) {
	s := &simulator{
		p:        p,
		dist:     gic.New(),
		machine:  &simMachine{far: make([]atomicbitops.Uint64, p.NumCPUs)},
		vectors:  make(map[string]uint32),
		handled:  make(map[string]*atomicbitops.Uint64),
		queue:    ktime.NewTimerQueue(),
		tick:     ktime.Milliseconds(p.TickMS),
		syscalls: make(map[uint64]uint64),
	}

	dev := rtc.NewDevice(func() uint64 { return ktime.Timestamp(s.raw.Load()).Sec() })
	pl031, err := rtc.NewPL031(dev)
	if err != nil {
		return nil, err
	}
	s.clock = ktime.NewClock(ktime.NewParamPage(), rtc.NewClock(pl031))
	s.clock.AddListener(s.queue)
	s.clock.RegisterSource(ktime.SourceFunc(func() ktime.Timestamp {
		return ktime.Timestamp(s.raw.Load())
	}), ktime.SourceSyscall)
	if _, err := s.queue.Add(linux.CLOCK_MONOTONIC, ktime.Milliseconds(heartbeatPeriod), ktime.Milliseconds(heartbeatPeriod), func(exp uint64) {
		s.heartbeats.Add(exp)
	}); err != nil {
		return nil, err
	}

	opts := ring0.Options{
		NumCPUs:    p.NumCPUs,
		Machine:    s.machine,
		Controller: s.dist,
		Console:    console,
		Syscall:    s.syscall,
	}
	if p.TimerVector != 0 {
		s.timer = &simTimer{}
		opts.Timer = s.timer
		opts.TimerVector = p.TimerVector
		opts.OnTimer = s.onTimer
		s.vectors[config.TimerDevice] = p.TimerVector
	}
	if s.kernel, err = ring0.NewKernel(opts); err != nil {
		return nil, err
	}
	s.kernel.InstallFallbackFaultHandler(s.fault)

	in := s.kernel.Interrupts()
	for _, v := range p.Reserved {
		if !in.ReserveVector(v) {
			return nil, fmt.Errorf("cannot reserve vector %d", v)
		}
	}
	// Fixed vectors first, so that allocation cannot hand them out.
	fixed := make(map[uint32]bool)
	for _, d := range p.Devices {
		if d.Vector == 0 {
			continue
		}
		// A second device on the same fixed vector shares it.
		if !fixed[d.Vector] && !in.ReserveVector(d.Vector) {
			return nil, fmt.Errorf("device %q: vector %d already in use", d.Name, d.Vector)
		}
		fixed[d.Vector] = true
		s.vectors[d.Name] = d.Vector
	}
	for _, d := range p.Devices {
		if d.Vector == 0 {
			v, err := in.AllocateVector()
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", d.Name, err)
			}
			s.vectors[d.Name] = v
		}
		s.register(d)
	}
	return s, nil
}

// register installs the handlers of d.
func (s *simulator) register(d config.Device) {
	v := s.vectors[d.Name]
	n := d.Handlers
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		name := d.Name
		if n > 1 {
			name = fmt.Sprintf("%s.%d", d.Name, i)
		}
		cnt := &atomicbitops.Uint64{}
		s.handled[name] = cnt
		s.kernel.Interrupts().Register(v, func() { cnt.Add(1) }, name)
	}
	if d.Priority != 0 {
		s.dist.SetPriority(v, d.Priority)
	}
	if d.Edge {
		s.dist.SetConfig(v, ring0.TriggerEdge)
	}
	log.Infof("simulate: device %s on vector %d, %d handlers", d.Name, v, n)
}

// onTimer advances simulated time by one tick and expires timers.
func (s *simulator) onTimer() {
	s.ticks.Add(1)
	s.raw.Add(uint64(s.tick))
	s.queue.Expire(linux.CLOCK_MONOTONIC, s.clock.Now(linux.CLOCK_MONOTONIC))
}

// syscall is the system call entry point.
func (s *simulator) syscall(f *ring0.Frame) {
	s.mu.Lock()
	s.syscalls[f.Vector()]++
	s.mu.Unlock()
}

// fault is the fallback fault handler. Faults are recorded and the CPU
// goes back to its run loop.
func (s *simulator) fault(f *ring0.Frame) *ring0.Frame {
	s.mu.Lock()
	s.faults = append(s.faults, f.ESR().Class().String())
	s.mu.Unlock()
	return nil
}

// trap takes vector v on c with frame f, returning once the router has
// given up control.
func (s *simulator) trap(c *ring0.CPU, v ring0.Vector, f *ring0.Frame) (err error) {
	defer func() {
		switch r := recover().(type) {
		case nil, yield:
		case halted:
			err = fmt.Errorf("cpu %d halted", r.cpu)
		default:
			panic(r)
		}
	}()
	c.Trap(v, f)
	return nil
}

// frame returns a trap frame for a trap from user or kernel mode.
func frame(user bool, esr ring0.Syndrome) (*ring0.Frame, ring0.Vector, ring0.Vector) {
	f := &ring0.Frame{}
	if user {
		f.SetESRSPSR(esr, ring0.UserFlagsSet)
		f[ring0.FrameEL] = 0
		return f, ring0.El0Sync, ring0.El0Irq
	}
	f.SetESRSPSR(esr, ring0.KernelFlagsSet)
	f[ring0.FrameEL] = 1
	return f, ring0.El1Sync, ring0.El1Irq
}

// step runs one script step on c.
func (s *simulator) step(c *ring0.CPU, st *config.Step) error {
	switch {
	case st.Syscall != nil:
		f, entry, _ := frame(st.User, ring0.MakeSyndrome(ring0.ECSVC64, 0))
		f.SetReg(8, *st.Syscall)
		return s.trap(c, entry, f)
	case st.Fault != 0:
		ec := ring0.ECDataAbort
		if st.User {
			ec = ring0.ECDataAbortLowerEL
		}
		f, entry, _ := frame(st.User, ring0.MakeSyndrome(ec, 0))
		s.machine.far[c.ID].Store(st.Fault)
		return s.trap(c, entry, f)
	default:
		for _, name := range st.Raise {
			if name == config.TimerDevice {
				s.timer.asserted.Add(1)
			}
			if err := s.dist.Raise(s.vectors[name]); err != nil {
				return err
			}
		}
		f, _, irq := frame(st.User, 0)
		return s.trap(c, irq, f)
	}
}

// run runs the script, one goroutine per CPU, then drains anything left
// pending on CPU 0.
func (s *simulator) run() error {
	var g errgroup.Group
	for i := 0; i < s.kernel.NumCPUs(); i++ {
		c := s.kernel.CPU(i)
		g.Go(func() error {
			for j := range s.p.Steps {
				st := &s.p.Steps[j]
				if st.CPU != int(c.ID) {
					continue
				}
				for n := 0; n < st.Count(); n++ {
					if err := s.step(c, st); err != nil {
						return fmt.Errorf("step %d: %w", j, err)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f, _, irq := frame(false, 0)
	return s.trap(s.kernel.CPU(0), irq, f)
}

// report prints the outcome of the run.
func (s *simulator) report(w io.Writer) {
	in := s.kernel.Interrupts()
	counts := in.Counts()
	vectors := make([]uint32, 0, len(counts))
	for v := range counts {
		vectors = append(vectors, v)
	}
	sort.Slice(vectors, func(i, j int) bool { return vectors[i] < vectors[j] })

	fmt.Fprintf(w, "interrupts:\n")
	for _, v := range vectors {
		fmt.Fprintf(w, "  %3d: %d %v\n", v, counts[v], in.Handlers(v))
	}
	names := make([]string, 0, len(s.handled))
	for name := range s.handled {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "handlers:\n")
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, s.handled[name].Load())
	}
	fmt.Fprintf(w, "traps:\n")
	for i := 0; i < s.kernel.NumCPUs(); i++ {
		c := s.kernel.CPU(i)
		fmt.Fprintf(w, "  cpu %d: %d (%v)\n", c.ID, c.Traps(), c.State())
	}

	s.mu.Lock()
	nrs := make([]uint64, 0, len(s.syscalls))
	for nr := range s.syscalls {
		nrs = append(nrs, nr)
	}
	sort.Slice(nrs, func(i, j int) bool { return nrs[i] < nrs[j] })
	for _, nr := range nrs {
		fmt.Fprintf(w, "syscall %d: %d\n", nr, s.syscalls[nr])
	}
	for _, fault := range s.faults {
		fmt.Fprintf(w, "fault: %s\n", fault)
	}
	s.mu.Unlock()

	fmt.Fprintf(w, "ticks: %d, heartbeats: %d, monotonic: %v\n",
		s.ticks.Load(), s.heartbeats.Load(), s.clock.Now(linux.CLOCK_MONOTONIC))
}
