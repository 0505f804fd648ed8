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

// Package gic is a software model of a GICv2 distributor and CPU interface.
//
// It implements ring0.Controller and is used to drive the trap router
// without hardware.
package gic

import (
	"fmt"

	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/ring0"
	"ktrap.dev/ktrap/pkg/sync"
)

const (
	// NumIDs is the number of interrupt ids the distributor implements.
	NumIDs = 1020

	// SpuriousID is returned by the acknowledge register when nothing is
	// pending.
	SpuriousID = 1023

	// DefaultPriority is the reset priority of every interrupt.
	DefaultPriority = 0x80
)

type irq struct {
	enabled  bool
	pending  bool
	active   bool
	priority uint8
	config   ring0.TriggerConfig
	target   uint32
}

// Distributor models the distributor together with a single CPU interface.
//
// All methods are safe for concurrent use.
type Distributor struct {
	mu sync.Mutex

	// irqs is indexed by interrupt id. Protected by mu.
	irqs [NumIDs]irq

	// eois records every end of interrupt, in order. Protected by mu.
	eois []uint32
}

var _ ring0.Controller = (*Distributor)(nil)

// New returns a distributor in its reset state.
func New() *Distributor {
	d := &Distributor{}
	d.reset()
	return d
}

func (d *Distributor) reset() {
	for i := range d.irqs {
		d.irqs[i] = irq{priority: DefaultPriority, target: 1}
	}
	d.eois = nil
}

// Init implements ring0.Controller.Init.
func (d *Distributor) Init() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	log.Debugf("gic: initialized, %d interrupt ids", NumIDs)
}

// acknowledge returns the highest priority pending interrupt and marks it
// active. Lower priority values win; ties go to the lower id.
//
// Preconditions: d.mu is locked.
func (d *Distributor) acknowledge() uint32 {
	best := uint32(SpuriousID)
	for id := range d.irqs {
		q := &d.irqs[id]
		if !q.enabled || !q.pending || q.active {
			continue
		}
		if best == SpuriousID || q.priority < d.irqs[best].priority {
			best = uint32(id)
		}
	}
	if best != SpuriousID {
		q := &d.irqs[best]
		q.active = true
		q.pending = false
	}
	return best
}

// Dispatch implements ring0.Controller.Dispatch.
func (d *Distributor) Dispatch() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.acknowledge()
	return id, id != SpuriousID
}

// EOI implements ring0.Controller.EOI.
func (d *Distributor) EOI(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eois = append(d.eois, id)
	if id < NumIDs {
		d.irqs[id].active = false
	}
}

// Enable implements ring0.Controller.Enable.
func (d *Distributor) Enable(id uint32) {
	d.update(id, func(q *irq) { q.enabled = true })
}

// Disable implements ring0.Controller.Disable.
func (d *Distributor) Disable(id uint32) {
	d.update(id, func(q *irq) { q.enabled = false })
}

// SetPriority implements ring0.Controller.SetPriority.
func (d *Distributor) SetPriority(id uint32, priority uint8) {
	d.update(id, func(q *irq) { q.priority = priority })
}

// SetConfig implements ring0.Controller.SetConfig.
func (d *Distributor) SetConfig(id uint32, cfg ring0.TriggerConfig) {
	d.update(id, func(q *irq) { q.config = cfg })
}

// SetTarget implements ring0.Controller.SetTarget.
func (d *Distributor) SetTarget(id uint32, core uint32) {
	d.update(id, func(q *irq) { q.target = core })
}

// ClearPending implements ring0.Controller.ClearPending.
func (d *Distributor) ClearPending(id uint32) {
	d.update(id, func(q *irq) { q.pending = false })
}

func (d *Distributor) update(id uint32, fn func(q *irq)) {
	if id >= NumIDs {
		log.Warningf("gic: ignoring access to interrupt %d", id)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.irqs[id])
}

// Raise marks id pending, as a device asserting its line would.
func (d *Distributor) Raise(id uint32) error {
	if id >= NumIDs {
		return fmt.Errorf("gic: interrupt %d out of range", id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.irqs[id].pending = true
	return nil
}

// State describes the programmed state of one interrupt.
type State struct {
	Enabled  bool
	Pending  bool
	Active   bool
	Priority uint8
	Config   ring0.TriggerConfig
	Target   uint32
}

// State returns the state of id.
func (d *Distributor) State(id uint32) State {
	if id >= NumIDs {
		return State{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.irqs[id]
	return State{
		Enabled:  q.enabled,
		Pending:  q.pending,
		Active:   q.active,
		Priority: q.priority,
		Config:   q.config,
		Target:   q.target,
	}
}

// EOIs returns the ids that have been signalled end of interrupt, in order.
func (d *Distributor) EOIs() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.eois...)
}
