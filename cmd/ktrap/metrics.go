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
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/protobuf/proto"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// counterFamily builds a counter metric family.
type counterFamily struct {
	mf *dto.MetricFamily
}

func newCounterFamily(name, help string) *counterFamily {
	return &counterFamily{mf: &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}}
}

// add appends a sample. labels alternate names and values.
func (c *counterFamily) add(v uint64, labels ...string) {
	m := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(float64(v))}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	c.mf.Metric = append(c.mf.Metric, m)
}

// writeMetrics writes the counters of a finished run in the Prometheus text
// exposition format.
func (s *simulator) writeMetrics(w io.Writer) error {
	in := s.kernel.Interrupts()
	counts := in.Counts()
	vectors := make([]uint32, 0, len(counts))
	for v := range counts {
		vectors = append(vectors, v)
	}
	sort.Slice(vectors, func(i, j int) bool { return vectors[i] < vectors[j] })
	interrupts := newCounterFamily("ktrap_interrupts_total", "Interrupts dispatched, by vector.")
	for _, v := range vectors {
		interrupts.add(counts[v], "vector", strconv.FormatUint(uint64(v), 10), "handlers", strings.Join(in.Handlers(v), ","))
	}

	traps := newCounterFamily("ktrap_traps_total", "Traps taken, by CPU.")
	for i := 0; i < s.kernel.NumCPUs(); i++ {
		c := s.kernel.CPU(i)
		traps.add(c.Traps(), "cpu", strconv.FormatUint(uint64(c.ID), 10))
	}

	syscalls := newCounterFamily("ktrap_syscalls_total", "System calls, by number.")
	faults := newCounterFamily("ktrap_faults_total", "Faults sent to the fallback fault handler.")
	s.mu.Lock()
	nrs := make([]uint64, 0, len(s.syscalls))
	for nr := range s.syscalls {
		nrs = append(nrs, nr)
	}
	sort.Slice(nrs, func(i, j int) bool { return nrs[i] < nrs[j] })
	for _, nr := range nrs {
		syscalls.add(s.syscalls[nr], "nr", strconv.FormatUint(nr, 10))
	}
	faults.add(uint64(len(s.faults)))
	s.mu.Unlock()

	ticks := newCounterFamily("ktrap_timer_ticks_total", "Timer interrupts serviced.")
	ticks.add(s.ticks.Load())

	for _, f := range []*counterFamily{interrupts, traps, syscalls, faults, ticks} {
		if len(f.mf.Metric) == 0 {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, f.mf); err != nil {
			return fmt.Errorf("writing %s: %w", f.mf.GetName(), err)
		}
	}
	return nil
}
