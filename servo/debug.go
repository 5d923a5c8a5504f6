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
	"time"

	log "github.com/sirupsen/logrus"
)

// DebugConfig sets the baselines the Debug servo reports against
type DebugConfig struct {
	SkewOffsetPPB float64       `yaml:"skew_offset_ppb"`
	TimeOffset    time.Duration `yaml:"time_offset"`
}

// Tuner is a servo taking manual frequency tunings
type Tuner interface {
	Tune(ppb float64)
}

// Debug is a servo for manual experiments: it never corrects on its own and
// only applies tunings queued with Tune. Every sample is logged relative to
// the configured skew and time baselines.
type Debug struct {
	maxPPB float64
	freq   float64
	base   DebugConfig

	skew0      float64
	offset0    time.Duration
	lastOffset time.Duration
	lastSkew   float64
	lastRel    time.Duration
	cycle      uint64

	tuning      float64
	tuningValid bool
}

// NewDebug creates Debug servo for a clock running at freq ppb
func NewDebug(cfg *Config, freq float64) *Debug {
	d := &Debug{maxPPB: cfg.MaxFreqPPB, freq: freq, base: cfg.Debug}
	d.Reset()
	return d
}

// Tune queues a one-shot relative tuning in ppb, applied on next Update
func (d *Debug) Tune(ppb float64) {
	d.tuning = ppb
	d.tuningValid = true
	log.Infof("tuning in next cycle: %.4f ppb", ppb)
}

// LastSkew returns skew measured in the last cycle, ppb
func (d *Debug) LastSkew() float64 {
	return d.lastSkew
}

// Reset implements Servo
func (d *Debug) Reset() {
	d.skew0 = d.base.SkewOffsetPPB
	d.offset0 = d.base.TimeOffset
	d.lastOffset = 0
	d.lastRel = 0
	d.cycle = 0
	d.tuning = 0
	d.tuningValid = false
}

// SetFrequency implements Servo
func (d *Debug) SetFrequency(ppb float64) {
	d.freq = ppb
}

// Locked is always false, nobody steers the clock
func (d *Debug) Locked() bool {
	return false
}

// Update implements Servo
func (d *Debug) Update(offset, _ time.Duration, interval time.Duration) Correction {
	if d.cycle > 0 && interval > 0 {
		skew := float64(offset-d.lastOffset) / float64(interval.Nanoseconds()) * 1e9
		skewRel := skew - d.skew0
		rel := offset - d.offset0 - time.Duration(skewRel*interval.Seconds())
		log.Infof("skew %+8.4f ppb offset %12d ns delta %12d ns", skewRel, rel.Nanoseconds(), (rel - d.lastRel).Nanoseconds())
		d.lastRel = rel
		d.lastSkew = skew
	}
	d.lastOffset = offset
	d.cycle++
	if d.tuningValid {
		d.freq = clamp(d.freq+d.tuning, d.maxPPB)
		d.tuningValid = false
		log.Infof("now tuning %.4f ppb", d.tuning)
	}
	return Correction{FrequencyPPB: d.freq, State: StateInit}
}
