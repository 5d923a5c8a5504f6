/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

var startedAt = time.Now()

// SysStats collects daemon process and Go runtime metrics. Rates are computed against the previous collection.
type SysStats struct {
	prev *runtime.MemStats
}

// addDelta records the difference between two cumulative readings and its per second rate
func addDelta(name string, out map[string]uint64, cur, prev uint64, interval time.Duration) {
	secs := uint64(interval.Seconds())
	if prev > cur || secs == 0 {
		return
	}
	out[fmt.Sprintf("%s.sum.%d", name, secs)] = cur - prev
	out[fmt.Sprintf("%s.rate.%d", name, secs)] = (cur - prev) / secs
}

func collectProcess(out map[string]uint64, interval time.Duration) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	out["process.uptime"] = uint64(time.Since(startedAt).Seconds())
	if val, err := proc.Percent(0); err == nil {
		out[fmt.Sprintf("process.cpu_pct.avg.%d", int(interval.Seconds()))] = uint64(val * 100)
	}
	if val, err := proc.MemoryInfo(); err == nil {
		out["process.rss"] = val.RSS
		out["process.vms"] = val.VMS
	}
	if val, err := proc.NumFDs(); err == nil {
		out["process.num_fds"] = uint64(val)
	}
	if val, err := proc.NumThreads(); err == nil {
		out["process.num_threads"] = uint64(val)
	}
	return nil
}

// CollectRuntimeStats gathers process, memory and gc statistics
func (s *SysStats) CollectRuntimeStats(interval time.Duration) (map[string]uint64, error) {
	out := make(map[string]uint64)
	if err := collectProcess(out, interval); err != nil {
		return nil, err
	}

	m := &runtime.MemStats{}
	runtime.ReadMemStats(m)
	out["runtime.goroutines"] = uint64(runtime.NumGoroutine())
	out["runtime.mem.alloc"] = m.Alloc
	out["runtime.mem.sys"] = m.Sys
	out["runtime.mem.heap.alloc"] = m.HeapAlloc
	out["runtime.mem.heap.inuse"] = m.HeapInuse
	out["runtime.mem.heap.objects"] = m.HeapObjects
	out["runtime.mem.stack.inuse"] = m.StackInuse
	out["runtime.gc.count"] = uint64(m.NumGC)
	out["runtime.gc.pause_total"] = m.PauseTotalNs
	if s.prev != nil {
		addDelta("runtime.mem.mallocs", out, m.Mallocs, s.prev.Mallocs, interval)
		addDelta("runtime.mem.frees", out, m.Frees, s.prev.Frees, interval)
		addDelta("runtime.gc.pause_ns", out, m.PauseTotalNs, s.prev.PauseTotalNs, interval)
		addDelta("runtime.gc.runs", out, uint64(m.NumGC), uint64(s.prev.NumGC), interval)
	}
	s.prev = m
	return out, nil
}
