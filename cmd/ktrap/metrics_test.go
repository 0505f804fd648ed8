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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"github.com/prometheus/common/expfmt"
)

// counters returns the samples of a counter family keyed by the value of
// label, or by "" for unlabelled samples.
func counters(t *testing.T, text []byte, name, label string) map[string]float64 {
	t.Helper()
	parsed, err := (&expfmt.TextParser{}).TextToMetricFamilies(bytes.NewReader(text))
	if err != nil {
		t.Fatalf("parsing metrics: %v\n%s", err, text)
	}
	mf, ok := parsed[name]
	if !ok {
		t.Fatalf("metric %q not found:\n%s", name, text)
	}
	m := make(map[string]float64)
	for _, metric := range mf.GetMetric() {
		key := ""
		for _, l := range metric.GetLabel() {
			if l.GetName() == label {
				key = l.GetValue()
			}
		}
		m[key] = metric.GetCounter().GetValue()
	}
	return m
}

func TestWriteMetrics(t *testing.T) {
	s, err := newSimulator(loadTestPlatform(t, testPlatform), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("newSimulator failed: %v", err)
	}
	if err := s.run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var buf bytes.Buffer
	if err := s.writeMetrics(&buf); err != nil {
		t.Fatalf("writeMetrics failed: %v", err)
	}
	text := buf.Bytes()

	for _, tc := range []struct {
		name  string
		label string
		want  map[string]float64
	}{
		{name: "ktrap_interrupts_total", label: "vector", want: map[string]float64{"32": 1, "33": 3, "48": 3}},
		{name: "ktrap_interrupts_total", label: "handlers", want: map[string]float64{"net.0,net.1": 1, "uart": 3, "arm timer": 3}},
		{name: "ktrap_traps_total", label: "cpu", want: map[string]float64{"0": 8}},
		{name: "ktrap_syscalls_total", label: "nr", want: map[string]float64{"64": 2}},
		{name: "ktrap_faults_total", want: map[string]float64{"": 1}},
		{name: "ktrap_timer_ticks_total", want: map[string]float64{"": 3}},
	} {
		t.Run(tc.name+"/"+tc.label, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, counters(t, text, tc.name, tc.label)); diff != "" {
				t.Errorf("%s mismatch (-want +got):\n%s", tc.name, diff)
			}
		})
	}
}

func TestMainSimulateMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.txt")
	var out bytes.Buffer
	if got := Main([]string{"simulate", "--metrics", path}, &out); got != subcommands.ExitSuccess {
		t.Fatalf("Main returned %v, output:\n%s", got, out.String())
	}
	text, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// The default platform has no script; only the final drain trap runs.
	if diff := cmp.Diff(map[string]float64{"0": 1}, counters(t, text, "ktrap_traps_total", "cpu")); diff != "" {
		t.Errorf("traps mismatch (-want +got):\n%s", diff)
	}
}
