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
	"errors"
	"fmt"

	"ktrap.dev/ktrap/pkg/atomicbitops"
	"ktrap.dev/ktrap/pkg/bitmap"
	"ktrap.dev/ktrap/pkg/log"
	"ktrap.dev/ktrap/pkg/sync"
)

const (
	// InterruptVectorStart is the first routed interrupt vector. Vectors
	// below it are architectural exceptions.
	InterruptVectorStart = 32

	// MaxInterruptVectors is the size of the vector space.
	MaxInterruptVectors = 256
)

// Errors returned by the vector allocator.
var (
	ErrNoVectors          = errors.New("no free interrupt vectors")
	ErrVectorRange        = errors.New("interrupt vector out of range")
	ErrVectorNotAllocated = errors.New("interrupt vector not allocated")
	ErrVectorReserved     = errors.New("interrupt vector is reserved")
)

// InterruptHandler is called for every interrupt on its vector.
type InterruptHandler func()

type handlerEntry struct {
	fn   InterruptHandler
	name string
}

// handlerList is an immutable list of handlers. Updates replace the list.
type handlerList struct {
	entries []handlerEntry
}

// Interrupts is the interrupt handler registry and vector allocator.
//
// Dispatch reads handler lists without locking; Register and Unregister
// are serialized internally and publish a new list for the vector.
type Interrupts struct {
	ctl Controller

	// fatal halts the system. It does not return.
	fatal func(format string, v ...any)

	// mu serializes registry and allocator updates.
	mu sync.Mutex

	vectors [MaxInterruptVectors]atomicbitops.Pointer[handlerList]
	counts  [MaxInterruptVectors]atomicbitops.Uint64

	// ids and reserved are protected by mu.
	ids      bitmap.Bitmap
	reserved bitmap.Bitmap
}

func newInterrupts(ctl Controller, fatal func(format string, v ...any)) *Interrupts {
	return &Interrupts{
		ctl:      ctl,
		fatal:    fatal,
		ids:      bitmap.New(MaxInterruptVectors),
		reserved: bitmap.New(MaxInterruptVectors),
	}
}

// Register appends handler to the list for vector.
//
// The first handler registered for a vector enables it at the controller
// with priority 0 after clearing any stale pending state. Later handlers
// share the vector and only append.
func (in *Interrupts) Register(vector uint32, handler InterruptHandler, name string) {
	if vector < InterruptVectorStart || vector >= MaxInterruptVectors {
		in.fatal("register_interrupt: vector %d is not an interrupt vector", vector)
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	old := in.vectors[vector].Load()
	shared := old != nil && len(old.entries) > 0
	if log.IsLogging(log.Debug) {
		suffix := ""
		if shared {
			suffix = ", shared"
		}
		log.Debugf("register_interrupt: vector %d, name %s%s", vector, name, suffix)
	}

	nl := &handlerList{}
	if old != nil {
		nl.entries = make([]handlerEntry, len(old.entries), len(old.entries)+1)
		copy(nl.entries, old.entries)
	}
	nl.entries = append(nl.entries, handlerEntry{fn: handler, name: name})
	in.vectors[vector].Store(nl)

	if !shared {
		in.ctl.SetPriority(vector, 0)
		in.ctl.ClearPending(vector)
		in.ctl.Enable(vector)
	}
}

// Unregister disables vector and removes every handler registered for it.
//
// Unregistering a vector without handlers is a fatal error.
func (in *Interrupts) Unregister(vector uint32) {
	if vector >= MaxInterruptVectors {
		in.fatal("unregister_interrupt: vector %d out of range", vector)
		return
	}
	log.Debugf("unregister_interrupt: vector %d", vector)
	in.ctl.Disable(vector)

	in.mu.Lock()
	defer in.mu.Unlock()
	old := in.vectors[vector].Load()
	if old == nil || len(old.entries) == 0 {
		in.fatal("unregister_interrupt: no handler registered for vector %d", vector)
		return
	}
	for _, h := range old.entries {
		log.Debugf("   remove handler %s", h.name)
	}
	in.vectors[vector].Store(nil)
}

// handlers returns the handlers for vector. The result must not be
// modified.
//
//go:nosplit
func (in *Interrupts) handlers(vector uint32) []handlerEntry {
	if l := in.vectors[vector].Load(); l != nil {
		return l.entries
	}
	return nil
}

// Handlers returns the names of the handlers registered for vector, in
// registration order.
func (in *Interrupts) Handlers(vector uint32) []string {
	if vector >= MaxInterruptVectors {
		return nil
	}
	hs := in.handlers(vector)
	if len(hs) == 0 {
		return nil
	}
	names := make([]string, 0, len(hs))
	for _, h := range hs {
		names = append(names, h.name)
	}
	return names
}

// Count returns the number of times vector has been dispatched.
func (in *Interrupts) Count(vector uint32) uint64 {
	if vector >= MaxInterruptVectors {
		return 0
	}
	return in.counts[vector].Load()
}

// Counts returns the dispatch count of every vector that has been
// dispatched at least once.
func (in *Interrupts) Counts() map[uint32]uint64 {
	m := make(map[uint32]uint64)
	for v := range in.counts {
		if n := in.counts[v].Load(); n != 0 {
			m[uint32(v)] = n
		}
	}
	return m
}

// AllocateVector allocates a free routed interrupt vector, for example for
// an MSI.
func (in *Interrupts) AllocateVector() (uint32, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id, err := in.ids.FirstZero(InterruptVectorStart)
	if err != nil || id >= MaxInterruptVectors {
		return 0, ErrNoVectors
	}
	in.ids.Add(id)
	return id, nil
}

// ReserveVector marks id as permanently in use. It returns false if id is
// out of range or already taken, in which case nothing changes.
func (in *Interrupts) ReserveVector(id uint32) bool {
	if id < InterruptVectorStart || id >= MaxInterruptVectors {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ids.Contains(id) {
		return false
	}
	in.ids.Add(id)
	in.reserved.Add(id)
	return true
}

// ReleaseVector returns an allocated vector to the allocator.
func (in *Interrupts) ReleaseVector(id uint32) error {
	if id < InterruptVectorStart || id >= MaxInterruptVectors {
		return fmt.Errorf("release vector %d: %w", id, ErrVectorRange)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	switch {
	case in.reserved.Contains(id):
		return fmt.Errorf("release vector %d: %w", id, ErrVectorReserved)
	case !in.ids.Contains(id):
		return fmt.Errorf("release vector %d: %w", id, ErrVectorNotAllocated)
	}
	in.ids.Remove(id)
	return nil
}
