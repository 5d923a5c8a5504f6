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
	"container/ring"
	"fmt"
	"math"
	"time"
)

type filterState uint8

const (
	filterNoSpike filterState = iota
	filterSpike
	filterReset
)

// FilterConfig is a spike filter configuration
type FilterConfig struct {
	MinOffsetLocked   int64   `yaml:"min_offset_locked"`   // offsets below this are never spikes, ns
	MaxFreqChange     int64   `yaml:"max_freq_change"`     // how many ppb the oscillator can drift per 1s
	MaxSkipCount      int     `yaml:"max_skip_count"`      // samples to skip before the servo is reset
	OffsetStdevFactor float64 `yaml:"offset_stdev_factor"` // standard deviation factor for offset
	FreqStdevFactor   float64 `yaml:"freq_stdev_factor"`   // standard deviation factor for frequency
	RingSize          int     `yaml:"ring_size"`           // samples to collect to activate filter
}

// DefaultFilterConfig to create a default spike filter config
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		MinOffsetLocked:   15000,
		MaxFreqChange:     40,
		MaxSkipCount:      15,
		OffsetStdevFactor: 3.0,
		FreqStdevFactor:   3.0,
		RingSize:          30,
	}
}

// Validate checks filter config
func (c *FilterConfig) Validate() error {
	if c.RingSize <= 0 {
		return fmt.Errorf("ring_size must be positive")
	}
	if c.MaxSkipCount <= 0 {
		return fmt.Errorf("max_skip_count must be positive")
	}
	return nil
}

type filterSample struct {
	offset int64
	freq   float64
}

// Filter drops offsets that don't fit recent history of a locked servo
type Filter struct {
	offsetStdev  int64
	offsetMean   int64
	freqStdev    float64
	freqMean     float64
	skippedCount int
	samples      *ring.Ring
	samplesCount int
	cfg          *FilterConfig
}

// NewFilter creates a filter and attaches it to the servo
func NewFilter(s *PID, cfg *FilterConfig) *Filter {
	f := &Filter{cfg: cfg}
	f.Reset()
	s.filter = f
	return f
}

func (f *Filter) isSpike(offset int64, sinceCorrection time.Duration) filterState {
	if f.skippedCount >= f.cfg.MaxSkipCount {
		return filterReset
	}
	if f.samplesCount < f.cfg.RingSize {
		return filterNoSpike
	}
	maxOffsetLocked := int64(f.cfg.OffsetStdevFactor * float64(f.offsetStdev))
	secPassed := math.Round(sinceCorrection.Seconds())
	waitFactor := secPassed * (f.cfg.FreqStdevFactor*f.freqStdev + float64(f.cfg.MaxFreqChange/2))
	maxOffsetLocked += int64(waitFactor)

	if offset < 0 {
		offset = -offset
	}
	if offset > max(maxOffsetLocked, f.cfg.MinOffsetLocked) {
		return filterSpike
	}
	return filterNoSpike
}

// Sample adds a sample to the filter and recalculates statistics
func (f *Filter) Sample(s *filterSample) {
	f.samples.Value = s
	f.samples = f.samples.Next()
	if f.samplesCount != f.cfg.RingSize {
		f.samplesCount++
	}
	var offsetSigmaSq, offsetMean int64
	var freqSigmaSq, freqMean float64
	f.samples.Do(func(val any) {
		if val == nil {
			return
		}
		v := val.(*filterSample)
		offsetSigmaSq += v.offset * v.offset
		offsetMean += v.offset
		freqSigmaSq += v.freq * v.freq
		freqMean += v.freq
	})
	f.offsetMean = offsetMean / int64(f.samplesCount)
	f.offsetStdev = int64(math.Sqrt(float64(offsetSigmaSq) / float64(f.samplesCount)))

	f.freqMean = freqMean / float64(f.samplesCount)
	freqVar := freqSigmaSq/float64(f.samplesCount) - f.freqMean*f.freqMean
	f.freqStdev = math.Sqrt(math.Max(freqVar, 0))
}

// Reset cleans up and restarts the filter
func (f *Filter) Reset() {
	f.samples = ring.New(f.cfg.RingSize)
	f.offsetStdev = 0
	f.offsetMean = 0
	f.freqStdev = 0.0
	f.freqMean = 0.0
	f.skippedCount = 0
	f.samplesCount = 0
}

// MeanFreq returns mean frequency of the collected samples
func (f *Filter) MeanFreq() float64 {
	return f.freqMean
}
