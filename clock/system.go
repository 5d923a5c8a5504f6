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

package clock

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/flexptp/ptpengine/servo"
)

// System is CLOCK_REALTIME
type System struct {
	a *adjuster
}

// NewSystem returns the system clock. Stepping is optional since it jumps wall clock for everyone.
func NewSystem(allowStep bool) (*System, error) {
	a, err := newAdjuster(unix.CLOCK_REALTIME, allowStep)
	if err != nil {
		return nil, err
	}
	return &System{a: a}, nil
}

// Now returns current system time
func (s *System) Now() (time.Time, error) {
	return time.Now(), nil
}

// Apply implements port.Clock
func (s *System) Apply(c servo.Correction) error {
	return s.a.apply(c)
}

// FrequencyPPB returns current frequency correction
func (s *System) FrequencyPPB() (float64, error) {
	return FrequencyPPB(s.a.id)
}

// MaxFreqPPB returns the largest correction Apply will set
func (s *System) MaxFreqPPB() float64 {
	return s.a.maxFreq
}

// SetSync marks the clock as synchronized
func (s *System) SetSync() error {
	return SetSync(s.a.id)
}
