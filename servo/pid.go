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

	log "github.com/sirupsen/logrus"
)

const (
	kpScale = 0.7
	kiScale = 0.3

	maxKpNormMax = 1.0
	maxKiNormMax = 2.0

	freqEstMargin = 0.001
)

// PIDConfig is a PI(D) servo config. Gains are scheduled from the sync interval:
// kp = KpScale * interval^KpExponent, capped at KpNormMax / interval, same for ki.
type PIDConfig struct {
	KpScale    float64 `yaml:"kp_scale"`
	KpExponent float64 `yaml:"kp_exponent"`
	KpNormMax  float64 `yaml:"kp_norm_max"`
	KiScale    float64 `yaml:"ki_scale"`
	KiExponent float64 `yaml:"ki_exponent"`
	KiNormMax  float64 `yaml:"ki_norm_max"`
	Kd         float64 `yaml:"kd"`
}

// DefaultPIDConfig to create default PID servo config
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		KpScale:    kpScale,
		KpExponent: 0.0,
		KpNormMax:  maxKpNormMax,
		KiScale:    kiScale,
		KiExponent: 0.0,
		KiNormMax:  maxKiNormMax,
		Kd:         0.0,
	}
}

// Validate checks the gains
func (c PIDConfig) Validate() error {
	if c.KpScale < 0 || c.KiScale < 0 || c.Kd < 0 {
		return fmt.Errorf("gains must not be negative")
	}
	if c.KpNormMax <= 0 || c.KiNormMax <= 0 {
		return fmt.Errorf("gain norm limits must be positive")
	}
	return nil
}

// PID is an offset based PI servo with optional derivative term.
// Internally frequency follows the offset sign, the output is negated.
type PID struct {
	cfg                *Config
	offset             [2]int64
	local              [2]int64
	elapsed            int64
	drift              float64
	kp                 float64
	ki                 float64
	lastFreq           float64
	lastOffset         int64
	lastState          State
	count              int
	lastCorrectionTime int64
	filter             *Filter
}

// NewPID creates PID servo for a clock running at freq ppb
func NewPID(cfg *Config, freq float64) *PID {
	s := &PID{cfg: cfg}
	s.SetFrequency(freq)
	s.SyncInterval(1)
	return s
}

// SetFrequency resets last known frequency and drift
func (s *PID) SetFrequency(freq float64) {
	s.lastFreq = -freq
	s.drift = -freq
}

// SyncInterval informs the servo about the sync interval in seconds
func (s *PID) SyncInterval(interval float64) {
	c := s.cfg.PID
	s.kp = c.KpScale * math.Pow(interval, c.KpExponent)
	if s.kp > c.KpNormMax/interval {
		s.kp = c.KpNormMax / interval
	}

	s.ki = c.KiScale * math.Pow(interval, c.KiExponent)
	if s.ki > c.KiNormMax/interval {
		s.ki = c.KiNormMax / interval
	}
}

// Reset restarts drift estimation, keeping the frequency
func (s *PID) Reset() {
	s.count = 0
	s.lastState = StateInit
	if s.filter != nil {
		s.filter.Reset()
	}
}

// Locked reports whether the servo runs the control loop
func (s *PID) Locked() bool {
	return s.count == 2 && s.lastState == StateLocked
}

// MeanFreq returns best calculated frequency, from filter if there is one
func (s *PID) MeanFreq() float64 {
	if s.filter != nil {
		return -s.filter.MeanFreq()
	}
	return -s.lastFreq
}

// Update implements Servo
func (s *PID) Update(offset, _ time.Duration, interval time.Duration) Correction {
	if interval > 0 {
		s.elapsed += int64(interval)
		s.SyncInterval(interval.Seconds())
	}
	ppb, state := s.sample(int64(offset), s.elapsed, interval.Seconds())
	s.lastState = state
	c := Correction{FrequencyPPB: -ppb, State: state}
	if state == StateJump {
		c.Step = -offset
		c.HasStep = true
	}
	log.Debugf("offset %10d servo %s freq %+7.0f", offset.Nanoseconds(), state, c.FrequencyPPB)
	return c
}

func (s *PID) isSpike(offset int64) filterState {
	if s.filter == nil {
		return filterNoSpike
	}
	return s.filter.isSpike(offset, time.Duration(s.elapsed-s.lastCorrectionTime))
}

func (s *PID) sample(offset int64, localTs int64, interval float64) (float64, State) {
	var kiTerm, freqEstInterval, localDiff float64
	state := StateInit
	ppb := s.lastFreq
	sOffset := offset
	if sOffset < 0 {
		sOffset = -sOffset
	}
	maxFreq := s.cfg.MaxFreqPPB
	stepThreshold := int64(s.cfg.StepThreshold)
	firstStepThreshold := int64(s.cfg.FirstStepThreshold)

	switch s.count {
	case 0:
		s.offset[0] = offset
		s.local[0] = localTs
		s.count = 1
	case 1:
		s.offset[1] = offset
		s.local[1] = localTs

		if s.local[0] >= s.local[1] {
			s.count = 0
			break
		}

		localDiff = float64(s.local[1]-s.local[0]) / math.Pow10(9)
		localDiff += localDiff * freqEstMargin
		freqEstInterval = 0.016 / s.ki
		if freqEstInterval > 1000.0 {
			freqEstInterval = 1000.0
		}
		if localDiff < freqEstInterval {
			log.Warningf("servo Update is called too often, not enough time passed since first sample")
			break
		}

		// adjust drift by the measured frequency offset
		s.drift += (math.Pow10(9) - s.drift) * float64(s.offset[1]-s.offset[0]) /
			float64(s.local[1]-s.local[0])
		s.drift = clamp(s.drift, maxFreq)

		if (s.cfg.FirstUpdate && firstStepThreshold > 0 && firstStepThreshold < sOffset) ||
			(stepThreshold > 0 && stepThreshold < sOffset) {
			state = StateJump
		} else {
			state = StateLocked
		}
		ppb = s.drift
		s.count = 2
	case 2:
		// offset above step threshold restarts drift estimation, the jump happens in step 1
		if stepThreshold != 0 && stepThreshold < sOffset {
			s.count = 0
			state = StateInit
			if s.filter != nil {
				s.filter.Reset()
			}
			break
		}
		fState := s.isSpike(offset)
		if fState == filterSpike {
			ppb = -s.MeanFreq()
			state = StateFilter
			s.filter.skippedCount++
			log.Warningf("servo filtered out offset %d", offset)
			break
		}
		// too many outstanding offsets, reset the filter and the servo
		if fState == filterReset {
			s.count = 0
			s.drift = 0
			s.filter.Reset()
			state = StateInit
			log.Warning("servo was reset")
			break
		}
		state = StateLocked
		kiTerm = s.ki * float64(offset)
		ppb = s.kp*float64(offset) + s.drift + kiTerm
		if s.cfg.PID.Kd > 0 && interval > 0 {
			ppb += s.cfg.PID.Kd * float64(offset-s.lastOffset) / interval
		}
		if ppb < -maxFreq {
			ppb = -maxFreq
		} else if ppb > maxFreq {
			ppb = maxFreq
		} else {
			s.drift += kiTerm
		}
	}
	s.lastFreq = ppb
	s.lastOffset = offset
	if state == StateLocked && s.filter != nil {
		s.filter.Sample(&filterSample{offset: offset, freq: ppb})
		s.filter.skippedCount = 0
		s.lastCorrectionTime = localTs
	}
	if state == StateFilter {
		state = StateLocked
	}
	return ppb, state
}
