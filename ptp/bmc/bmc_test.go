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

package bmc

import (
	"math/rand"
	"testing"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	pi1 := ptp.PortIdentity{PortNumber: 1, ClockIdentity: 5212879185253000328}
	pi2 := ptp.PortIdentity{PortNumber: 1, ClockIdentity: 0}

	a1 := Dataset{StepsRemoved: 1, Sender: pi1}
	a2 := Dataset{StepsRemoved: 3, Sender: pi1}
	a3 := Dataset{StepsRemoved: 1, Sender: pi2}
	require.Equal(t, Unknown, Compare(&a1, &a1))
	require.Equal(t, ABetterTopo, Compare(&a1, &a2))
	require.Equal(t, BBetterTopo, Compare(&a1, &a3))
	require.Equal(t, ABetterTopo, Compare(&a3, &a1))

	tests := []struct {
		name string
		a, b Dataset
	}{
		{"priority1", Dataset{GrandmasterIdentity: 2, Priority1: 1}, Dataset{GrandmasterIdentity: 1, Priority1: 2}},
		{"class", Dataset{GrandmasterIdentity: 2, ClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6}}, Dataset{GrandmasterIdentity: 1, ClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass7}}},
		{"accuracy", Dataset{GrandmasterIdentity: 2, ClockQuality: ptp.ClockQuality{ClockAccuracy: 42}}, Dataset{GrandmasterIdentity: 1, ClockQuality: ptp.ClockQuality{ClockAccuracy: 69}}},
		{"variance", Dataset{GrandmasterIdentity: 2, ClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 42}}, Dataset{GrandmasterIdentity: 1, ClockQuality: ptp.ClockQuality{OffsetScaledLogVariance: 69}}},
		{"priority2", Dataset{GrandmasterIdentity: 2, Priority2: 1}, Dataset{GrandmasterIdentity: 1, Priority2: 2}},
		{"identity", Dataset{GrandmasterIdentity: 1}, Dataset{GrandmasterIdentity: 2}},
		{"receiver", Dataset{Receiver: pi2}, Dataset{Receiver: pi1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, Compare(&tt.a, &tt.b) > Unknown)
			require.True(t, Compare(&tt.b, &tt.a) < Unknown)
		})
	}
}

func TestCompareGrandmasterBeforeTopology(t *testing.T) {
	// a better grandmaster wins no matter how far away it is
	near := Dataset{Priority1: 128, StepsRemoved: 0}
	far := Dataset{Priority1: 127, StepsRemoved: 10}
	require.Equal(t, BBetter, Compare(&near, &far))
}

func randomDatasets(n int) []*Dataset {
	r := rand.New(rand.NewSource(42))
	res := make([]*Dataset, 0, n)
	for i := 0; i < n; i++ {
		// tiny value ranges so that ties on leading fields are common
		res = append(res, &Dataset{
			Priority1: uint8(r.Intn(2)),
			ClockQuality: ptp.ClockQuality{
				ClockClass:              ptp.ClockClass(r.Intn(2)),
				ClockAccuracy:           ptp.ClockAccuracy(r.Intn(2)),
				OffsetScaledLogVariance: uint16(r.Intn(2)),
			},
			Priority2:           uint8(r.Intn(2)),
			GrandmasterIdentity: ptp.ClockIdentity(r.Intn(2)),
			StepsRemoved:        uint16(r.Intn(2)),
			Sender:              ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(r.Intn(2)), PortNumber: uint16(r.Intn(2))},
			Receiver:            ptp.PortIdentity{PortNumber: uint16(r.Intn(2))},
		})
	}
	return res
}

func TestCompareTotalOrder(t *testing.T) {
	ds := randomDatasets(40)
	for _, a := range ds {
		for _, b := range ds {
			ab := Compare(a, b)
			require.Equal(t, -ab, Compare(b, a), "antisymmetry of %s and %s", a, b)
			if ab == Unknown {
				require.Equal(t, *a, *b)
			}
			for _, c := range ds {
				if Better(a, b) && Better(b, c) {
					require.True(t, Better(a, c), "transitivity of %s, %s, %s", a, b, c)
				}
			}
		}
	}
}

func TestBest(t *testing.T) {
	require.Nil(t, Best())
	require.Nil(t, Best(nil, nil))

	ds := randomDatasets(20)
	want := Best(ds...)
	require.NotNil(t, want)
	for _, d := range ds {
		require.NotEqual(t, ABetter, Compare(d, want))
		require.NotEqual(t, ABetterTopo, Compare(d, want))
	}
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]*Dataset{}, ds...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, *want, *Best(shuffled...))
	}
}

func TestDatasetFromAnnounce(t *testing.T) {
	receiver := ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	a := &ptp.Announce{
		Header: ptp.Header{SourcePortIdentity: ptp.PortIdentity{ClockIdentity: 2, PortNumber: 3}},
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:        37,
			GrandmasterPriority1:    64,
			GrandmasterClockQuality: ptp.ClockQuality{ClockClass: ptp.ClockClass6, ClockAccuracy: ptp.ClockAccuracyNanosecond100, OffsetScaledLogVariance: 0x4e5d},
			GrandmasterPriority2:    128,
			GrandmasterIdentity:     2,
			StepsRemoved:            1,
			TimeSource:              ptp.TimeSourceGNSS,
		},
	}
	want := &Dataset{
		Priority1:           64,
		ClockQuality:        ptp.ClockQuality{ClockClass: ptp.ClockClass6, ClockAccuracy: ptp.ClockAccuracyNanosecond100, OffsetScaledLogVariance: 0x4e5d},
		Priority2:           128,
		GrandmasterIdentity: 2,
		StepsRemoved:        1,
		TimeSource:          ptp.TimeSourceGNSS,
		CurrentUTCOffset:    37,
		Sender:              ptp.PortIdentity{ClockIdentity: 2, PortNumber: 3},
		Receiver:            receiver,
	}
	require.Equal(t, want, DatasetFromAnnounce(a, receiver))
}
