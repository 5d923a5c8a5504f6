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
	"sync"
	"time"

	"github.com/flexptp/ptpengine/servo"
)

// FreeRunning is a software clock following the system monotonic clock.
// Steps shift its time base and frequency is only recorded, so the port can run without touching hardware.
type FreeRunning struct {
	mu      sync.Mutex
	offset  time.Duration
	freqPPB float64
	steps   int
	now     func() time.Time
}

// NewFreeRunning returns a FreeRunning clock
func NewFreeRunning() *FreeRunning {
	return &FreeRunning{now: time.Now}
}

// Now returns current time with all steps applied
func (f *FreeRunning) Now() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Add(f.offset), nil
}

// Apply implements port.Clock
func (f *FreeRunning) Apply(c servo.Correction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.HasStep {
		f.offset += c.Step
		f.steps++
	}
	f.freqPPB = c.FrequencyPPB
	return nil
}

// FrequencyPPB returns last requested frequency
func (f *FreeRunning) FrequencyPPB() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freqPPB, nil
}

// Steps returns the number of steps applied
func (f *FreeRunning) Steps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.steps
}
