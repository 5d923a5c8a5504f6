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

/*
Package stats collects port counters and measurement summaries and exports
them as JSON and Prometheus metrics.
*/
package stats

import (
	"math"
	"sync"

	"github.com/eclesh/welford"

	"github.com/flexptp/ptpengine/ptp/port"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// summary suffixes added to sample names in counters
const (
	SuffixMean   = ".mean"
	SuffixStddev = ".stddev"
	SuffixMin    = ".min"
	SuffixMax    = ".max"
	SuffixCount  = ".count"
)

type runningStats interface {
	Add(x float64)
	Mean() float64
	Stddev() float64
}

// summary is a running summary of one sample stream
type summary struct {
	w     runningStats
	count int64
	min   float64
	max   float64
}

func newSummary() *summary {
	return &summary{w: welford.New()}
}

func (s *summary) add(v float64) {
	s.w.Add(v)
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
}

// Stat is the port snapshot served over http
type Stat struct {
	PortIdentity  string    `json:"port_identity"`
	State         string    `json:"state"`
	Parent        string    `json:"parent,omitempty"`
	Grandmaster   string    `json:"grandmaster,omitempty"`
	Offset        int64     `json:"offset_ns"`
	MeanPathDelay int64     `json:"mean_path_delay_ns"`
	FrequencyPPB  float64   `json:"freq_ppb"`
	FilteredError float64   `json:"filtered_error_ns"`
	Locked        bool      `json:"locked"`
	Peer          *PeerStat `json:"peer,omitempty"`
}

// PeerStat describes the P2P neighbour
type PeerStat struct {
	Identity      string `json:"identity"`
	MeanPathDelay int64  `json:"mean_path_delay_ns"`
	Compliance    string `json:"compliance"`
	Reports       int    `json:"reports"`
}

// NewStat converts port snapshot ps of port id into Stat
func NewStat(id ptp.PortIdentity, ps port.Stats) *Stat {
	s := &Stat{
		PortIdentity:  id.String(),
		State:         ps.State.String(),
		Offset:        ps.Offset.Nanoseconds(),
		MeanPathDelay: ps.PathDelay.Nanoseconds(),
		FrequencyPPB:  ps.FrequencyPPB,
		FilteredError: ps.FilteredError,
		Locked:        ps.Locked,
	}
	if ps.Parent != nil {
		s.Parent = ps.Parent.String()
	}
	if ps.Grandmaster != 0 {
		s.Grandmaster = ps.Grandmaster.String()
	}
	if ps.Peer.Valid {
		s.Peer = &PeerStat{
			Identity:      ps.Peer.Identity.String(),
			MeanPathDelay: ps.Peer.MeanPathDelay.Nanoseconds(),
			Compliance:    ps.Peer.Compliance.String(),
			Reports:       ps.Peer.Reports,
		}
	}
	return s
}

// Stats is an implementation of port.StatsServer safe for concurrent use
type Stats struct {
	mux       sync.Mutex
	counters  map[string]int64
	summaries map[string]*summary
	stat      Stat
}

// NewStats created new instance of Stats
func NewStats() *Stats {
	return &Stats{
		counters:  map[string]int64{},
		summaries: map[string]*summary{},
	}
}

// UpdateCounterBy will increment counter
func (s *Stats) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value.
func (s *Stats) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// AddSample feeds val into the running summary named key
func (s *Stats) AddSample(key string, val float64) {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return
	}
	s.mux.Lock()
	sum, ok := s.summaries[key]
	if !ok {
		sum = newSummary()
		s.summaries[key] = sum
	}
	sum.add(val)
	s.mux.Unlock()
}

// GetCounters returns an map of counters, summaries included
func (s *Stats) GetCounters() map[string]int64 {
	ret := make(map[string]int64)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	for key, sum := range s.summaries {
		if sum.count == 0 {
			continue
		}
		ret[key+SuffixMean] = int64(math.Round(sum.w.Mean()))
		ret[key+SuffixMin] = int64(math.Round(sum.min))
		ret[key+SuffixMax] = int64(math.Round(sum.max))
		ret[key+SuffixCount] = sum.count
		if sum.count > 1 {
			ret[key+SuffixStddev] = int64(math.Round(sum.w.Stddev()))
		}
	}
	s.mux.Unlock()
	return ret
}

// SetStat replaces the port snapshot
func (s *Stats) SetStat(stat *Stat) {
	s.mux.Lock()
	s.stat = *stat
	if stat.Peer != nil {
		peer := *stat.Peer
		s.stat.Peer = &peer
	}
	s.mux.Unlock()
}

// GetStat returns a copy of the port snapshot
func (s *Stats) GetStat() Stat {
	s.mux.Lock()
	defer s.mux.Unlock()
	ret := s.stat
	if s.stat.Peer != nil {
		peer := *s.stat.Peer
		ret.Peer = &peer
	}
	return ret
}

// Reset all the values of counters and drop the summaries
func (s *Stats) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.summaries = map[string]*summary{}
	s.mux.Unlock()
}
