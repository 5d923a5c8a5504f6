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
	"fmt"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// ComparisonResult is the result of comparing two datasets
type ComparisonResult int8

const (
	// ABetterTopo means A is better than B by topology
	ABetterTopo ComparisonResult = 2
	// ABetter means A is better than B
	ABetter ComparisonResult = 1
	// Unknown means the datasets are identical
	Unknown ComparisonResult = 0
	// BBetter means B is better than A
	BBetter ComparisonResult = -1
	// BBetterTopo means B is better than A by topology
	BBetterTopo ComparisonResult = -2
)

func (r ComparisonResult) String() string {
	switch r {
	case ABetterTopo:
		return "ABetterTopo"
	case ABetter:
		return "ABetter"
	case Unknown:
		return "Unknown"
	case BBetter:
		return "BBetter"
	case BBetterTopo:
		return "BBetterTopo"
	}
	return fmt.Sprintf("ComparisonResult(%d)", int8(r))
}

// Dataset is everything the election needs to know about a candidate clock.
// Values are captured from an Announce and never modified afterwards.
type Dataset struct {
	Priority1           uint8
	ClockQuality        ptp.ClockQuality
	Priority2           uint8
	GrandmasterIdentity ptp.ClockIdentity
	StepsRemoved        uint16
	TimeSource          ptp.TimeSource
	CurrentUTCOffset    int16
	Sender              ptp.PortIdentity
	Receiver            ptp.PortIdentity
}

// DatasetFromAnnounce captures the dataset advertised by an Announce received on port receiver
func DatasetFromAnnounce(a *ptp.Announce, receiver ptp.PortIdentity) *Dataset {
	return &Dataset{
		Priority1:           a.GrandmasterPriority1,
		ClockQuality:        a.GrandmasterClockQuality,
		Priority2:           a.GrandmasterPriority2,
		GrandmasterIdentity: a.GrandmasterIdentity,
		StepsRemoved:        a.StepsRemoved,
		TimeSource:          a.TimeSource,
		CurrentUTCOffset:    a.CurrentUTCOffset,
		Sender:              a.SourcePortIdentity,
		Receiver:            receiver,
	}
}

func (d *Dataset) String() string {
	return fmt.Sprintf("gm=%s p1=%d class=%d acc=%#x var=%#x p2=%d steps=%d from=%s",
		d.GrandmasterIdentity, d.Priority1, d.ClockQuality.ClockClass, d.ClockQuality.ClockAccuracy,
		d.ClockQuality.OffsetScaledLogVariance, d.Priority2, d.StepsRemoved, d.Sender)
}

func cmpUint[T ~uint8 | ~uint16 | ~uint64](a, b T) ComparisonResult {
	switch {
	case a < b:
		return ABetter
	case a > b:
		return BBetter
	}
	return Unknown
}

func topo(r ComparisonResult) ComparisonResult {
	return r * 2
}

// Compare orders two datasets, lower attribute values win.
// Grandmaster attributes are compared first, then topology: steps removed,
// sender port identity and receiver port identity. The order is total,
// Unknown is returned only when a and b are identical on every compared field.
func Compare(a, b *Dataset) ComparisonResult {
	if r := cmpUint(a.Priority1, b.Priority1); r != Unknown {
		return r
	}
	if r := cmpUint(a.ClockQuality.ClockClass, b.ClockQuality.ClockClass); r != Unknown {
		return r
	}
	if r := cmpUint(a.ClockQuality.ClockAccuracy, b.ClockQuality.ClockAccuracy); r != Unknown {
		return r
	}
	if r := cmpUint(a.ClockQuality.OffsetScaledLogVariance, b.ClockQuality.OffsetScaledLogVariance); r != Unknown {
		return r
	}
	if r := cmpUint(a.Priority2, b.Priority2); r != Unknown {
		return r
	}
	if r := cmpUint(a.GrandmasterIdentity, b.GrandmasterIdentity); r != Unknown {
		return r
	}
	if r := cmpUint(a.StepsRemoved, b.StepsRemoved); r != Unknown {
		return topo(r)
	}
	if c := a.Sender.Compare(b.Sender); c != 0 {
		return topo(ComparisonResult(-c))
	}
	if c := a.Receiver.Compare(b.Receiver); c != 0 {
		return topo(ComparisonResult(-c))
	}
	return Unknown
}

// Better reports whether a wins over b
func Better(a, b *Dataset) bool {
	return Compare(a, b) > 0
}

// Best folds datasets into the winner. Nil entries are skipped, nil is returned for no candidates.
func Best(datasets ...*Dataset) *Dataset {
	var best *Dataset
	for _, d := range datasets {
		if d == nil {
			continue
		}
		if best == nil || Better(d, best) {
			best = d
		}
	}
	return best
}
