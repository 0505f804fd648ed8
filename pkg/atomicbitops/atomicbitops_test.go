// Copyright 2021 The gVisor Authors.
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


package atomicbitops

import (
	"runtime"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestConcurrentAdd(t *testing.T) {
	const (
		workers = 8
		adds    = 1000
	)
	var (
		u Uint64
		i Int64
		s Int32
		g errgroup.Group
	)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for n := 0; n < adds; n++ {
				u.Add(1)
				i.Add(-1)
				s.Add(1)
				runtime.Gosched()
			}
			return nil
		})
	}
	g.Wait()
	if got, want := u.Load(), uint64(workers*adds); got != want {
		t.Errorf("Uint64 = %d, want %d", got, want)
	}
	if got, want := i.Load(), int64(-workers*adds); got != want {
		t.Errorf("Int64 = %d, want %d", got, want)
	}
	if got, want := s.Load(), int32(workers*adds); got != want {
		t.Errorf("Int32 = %d, want %d", got, want)
	}
}

func TestSwap(t *testing.T) {
	var u Uint64
	u.Store(5)
	if old := u.Swap(0); old != 5 {
		t.Errorf("Swap returned %d, want 5", old)
	}
	if got := u.Load(); got != 0 {
		t.Errorf("Load after Swap = %d, want 0", got)
	}
}

func TestPointer(t *testing.T) {
	var p Pointer[int]
	if got := p.Load(); got != nil {
		t.Fatalf("zero Pointer loads %v, want nil", got)
	}
	v := 7
	p.Store(&v)
	if got := p.Load(); got != &v {
		t.Errorf("Load = %p, want %p", got, &v)
	}
	p.Store(nil)
	if got := p.Load(); got != nil {
		t.Errorf("Load after clearing = %v, want nil", got)
	}
}
