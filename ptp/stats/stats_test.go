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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flexptp/ptpengine/ptp/port"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

func TestStatsCounters(t *testing.T) {
	s := NewStats()
	s.UpdateCounterBy("rx.sync", 1)
	s.UpdateCounterBy("rx.sync", 2)
	s.SetCounter("state", 9)
	s.SetCounter("state", 6)

	require.Equal(t, map[string]int64{"rx.sync": 3, "state": 6}, s.GetCounters())

	s.Reset()
	require.Equal(t, map[string]int64{"rx.sync": 0, "state": 0}, s.GetCounters())
}

func TestStatsSamples(t *testing.T) {
	s := NewStats()
	s.AddSample(port.SampleOffset, 10)
	s.AddSample(port.SampleOffset, 20)
	s.AddSample(port.SampleOffset, 30)
	s.AddSample(port.SampleOffset, math.NaN())
	s.AddSample(port.SampleOffset, math.Inf(1))
	s.AddSample(port.SamplePathDelay, 100)

	c := s.GetCounters()
	require.Equal(t, int64(20), c["offset_ns.mean"])
	require.Equal(t, int64(10), c["offset_ns.min"])
	require.Equal(t, int64(30), c["offset_ns.max"])
	require.Equal(t, int64(3), c["offset_ns.count"])
	require.Contains(t, c, "offset_ns.stddev")

	require.Equal(t, int64(100), c["path_delay_ns.mean"])
	require.Equal(t, int64(1), c["path_delay_ns.count"])
	// a single sample has no deviation
	require.NotContains(t, c, "path_delay_ns.stddev")

	s.Reset()
	require.Empty(t, s.GetCounters())
}

func TestStatsConstantSamples(t *testing.T) {
	s := NewStats()
	for i := 0; i < 5; i++ {
		s.AddSample(port.SampleFrequency, -42)
	}
	c := s.GetCounters()
	require.Equal(t, int64(-42), c["freq_ppb.mean"])
	require.Equal(t, int64(0), c["freq_ppb.stddev"])
}

func TestNewStat(t *testing.T) {
	parent := ptp.PortIdentity{ClockIdentity: 0xb8cef6fffe02104c, PortNumber: 1}
	id := ptp.PortIdentity{ClockIdentity: 0x0011223344556677, PortNumber: 1}
	ps := port.Stats{
		State:         ptp.PortStateSlave,
		Parent:        &parent,
		Grandmaster:   parent.ClockIdentity,
		Offset:        40 * time.Nanosecond,
		PathDelay:     10 * time.Nanosecond,
		FrequencyPPB:  -12.5,
		FilteredError: 3,
		Locked:        true,
	}
	s := NewStat(id, ps)
	require.Equal(t, &Stat{
		PortIdentity:  "001122.3344.556677-1",
		State:         "SLAVE",
		Parent:        "b8cef6.fffe.02104c-1",
		Grandmaster:   "b8cef6.fffe.02104c",
		Offset:        40,
		MeanPathDelay: 10,
		FrequencyPPB:  -12.5,
		FilteredError: 3,
		Locked:        true,
	}, s)

	ps.Peer = port.PeerInfo{
		Identity:      parent,
		MeanPathDelay: time.Microsecond,
		Valid:         true,
		Compliance:    port.ComplianceEstablished,
		Reports:       4,
	}
	s = NewStat(id, ps)
	require.Equal(t, &PeerStat{
		Identity:      "b8cef6.fffe.02104c-1",
		MeanPathDelay: 1000,
		Compliance:    "ESTABLISHED",
		Reports:       4,
	}, s.Peer)
}

func TestSetStatCopies(t *testing.T) {
	s := NewStats()
	stat := &Stat{State: "SLAVE", Peer: &PeerStat{Reports: 1}}
	s.SetStat(stat)
	stat.Peer.Reports = 5

	got := s.GetStat()
	require.Equal(t, "SLAVE", got.State)
	require.Equal(t, 1, got.Peer.Reports)

	got.Peer.Reports = 7
	require.Equal(t, 1, s.GetStat().Peer.Reports)
}
