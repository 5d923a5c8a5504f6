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

package servo

import (
	"fmt"
	"math"
	"time"
)

// LockConfig configures lock detection
type LockConfig struct {
	// filtered offset below EnterThreshold makes us locked
	EnterThreshold time.Duration `yaml:"enter_threshold"`
	// filtered offset above ExitThreshold makes us unlocked
	ExitThreshold time.Duration `yaml:"exit_threshold"`
	// cutoff of the first order low pass filter on offset, 0 disables filtering
	FilterCutoffHz float64 `yaml:"filter_cutoff_hz"`
}

// DefaultLockConfig returns lock detection defaults
func DefaultLockConfig() LockConfig {
	return LockConfig{
		EnterThreshold: 100 * time.Nanosecond,
		ExitThreshold:  200 * time.Nanosecond,
		FilterCutoffHz: 0.1,
	}
}

// Validate checks lock config
func (c LockConfig) Validate() error {
	if c.EnterThreshold <= 0 {
		return fmt.Errorf("enter_threshold must be positive")
	}
	if c.ExitThreshold < c.EnterThreshold {
		return fmt.Errorf("exit_threshold %v must not be below enter_threshold %v", c.ExitThreshold, c.EnterThreshold)
	}
	if c.FilterCutoffHz < 0 {
		return fmt.Errorf("filter_cutoff_hz must not be negative")
	}
	return nil
}

// LockDetector decides whether we are locked to the master, with hysteresis
type LockDetector struct {
	cfg      LockConfig
	filtered float64
	locked   bool
}

// NewLockDetector returns unlocked detector
func NewLockDetector(cfg LockConfig) *LockDetector {
	d := &LockDetector{cfg: cfg}
	d.Reset()
	return d
}

// Reset returns to unlocked state. Filter starts far away so that startup doesn't flap.
func (d *LockDetector) Reset() {
	d.locked = false
	d.filtered = 100 * float64(d.cfg.EnterThreshold.Nanoseconds())
}

// Locked returns current lock state
func (d *LockDetector) Locked() bool {
	return d.locked
}

// Filtered returns filtered offset in ns
func (d *LockDetector) Filtered() float64 {
	return d.filtered
}

// Update feeds an offset sample taken interval after previous one.
// It returns new lock state and whether it changed.
func (d *LockDetector) Update(offset, interval time.Duration, masterPresent bool) (locked bool, changed bool) {
	if d.cfg.FilterCutoffHz > 0 && interval > 0 {
		a := math.Exp(-2 * math.Pi * d.cfg.FilterCutoffHz * interval.Seconds())
		d.filtered = a*d.filtered + (1-a)*float64(offset.Nanoseconds())
	} else {
		d.filtered = float64(offset.Nanoseconds())
	}
	te := math.Abs(d.filtered)
	next := d.locked
	switch {
	case !masterPresent:
		next = false
	case d.locked && te > float64(d.cfg.ExitThreshold.Nanoseconds()):
		next = false
	case !d.locked && te < float64(d.cfg.EnterThreshold.Nanoseconds()):
		next = true
	}
	changed = next != d.locked
	d.locked = next
	return d.locked, changed
}
