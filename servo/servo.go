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
Package servo implements clock servos: controllers turning a stream of
measured offsets into frequency and phase corrections for a clock.
*/
package servo

import (
	"fmt"
	"time"
)

// State is the servo state reported with every correction
type State uint8

// All the states of servo
const (
	StateInit   State = 0
	StateJump   State = 1
	StateLocked State = 2
	StateFilter State = 3
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateJump:
		return "JUMP"
	case StateLocked:
		return "LOCKED"
	case StateFilter:
		return "FILTER"
	}
	return "UNSUPPORTED"
}

// Correction is what the servo wants applied to the clock.
// FrequencyPPB is absolute, positive values speed the clock up.
// Step is only meaningful when HasStep is set.
type Correction struct {
	FrequencyPPB float64
	Step         time.Duration
	HasStep      bool
	State        State
}

func (c Correction) String() string {
	if c.HasStep {
		return fmt.Sprintf("%s freq %+.3f step %v", c.State, c.FrequencyPPB, c.Step)
	}
	return fmt.Sprintf("%s freq %+.3f", c.State, c.FrequencyPPB)
}

// Servo is a clock controller. Offset is local time minus master time,
// interval is the measured time between the two last samples.
type Servo interface {
	Update(offset, pathDelay, interval time.Duration) Correction
	Locked() bool
	Reset()
	// SetFrequency tells the servo what frequency the clock currently runs at
	SetFrequency(ppb float64)
}

// Kind selects servo implementation
type Kind string

// Supported servos
const (
	KindPID    Kind = "pid"
	KindKalman Kind = "kalman"
	KindDebug  Kind = "debug"
)

// Kinds lists all supported servos
var Kinds = []Kind{KindPID, KindKalman, KindDebug}

// DefaultMaxFreqPPB is used when the clock doesn't tell us its range
const DefaultMaxFreqPPB = 500000.0

// Config is a configuration of every servo, only the part for the selected kind is used
type Config struct {
	MaxFreqPPB         float64       `yaml:"max_freq_ppb"`
	StepThreshold      time.Duration `yaml:"step_threshold"`
	FirstStepThreshold time.Duration `yaml:"first_step_threshold"`
	FirstUpdate        bool          `yaml:"first_update"`
	PID                PIDConfig     `yaml:"pid"`
	Filter             *FilterConfig `yaml:"filter"`
	Kalman             KalmanConfig  `yaml:"kalman"`
	Debug              DebugConfig   `yaml:"debug"`
}

// DefaultConfig returns servo defaults
func DefaultConfig() *Config {
	return &Config{
		MaxFreqPPB:         DefaultMaxFreqPPB,
		FirstStepThreshold: 20 * time.Microsecond,
		PID:                DefaultPIDConfig(),
		Kalman:             DefaultKalmanConfig(),
	}
}

// Validate checks the servo config
func (c *Config) Validate() error {
	if c.MaxFreqPPB <= 0 {
		return fmt.Errorf("max_freq_ppb must be positive")
	}
	if c.StepThreshold < 0 || c.FirstStepThreshold < 0 {
		return fmt.Errorf("step thresholds must not be negative")
	}
	if err := c.PID.Validate(); err != nil {
		return fmt.Errorf("invalid pid config: %w", err)
	}
	if c.Filter != nil {
		if err := c.Filter.Validate(); err != nil {
			return fmt.Errorf("invalid filter config: %w", err)
		}
	}
	if err := c.Kalman.Validate(); err != nil {
		return fmt.Errorf("invalid kalman config: %w", err)
	}
	return nil
}

// ParseKind returns Kind by name
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown servo %q, supported: %v", name, Kinds)
}

// New creates servo of given kind starting at frequency freq
func New(kind Kind, cfg *Config, freq float64) (Servo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch kind {
	case KindPID:
		pid := NewPID(cfg, freq)
		if cfg.Filter != nil {
			NewFilter(pid, cfg.Filter)
		}
		return pid, nil
	case KindKalman:
		return NewKalman(cfg, freq), nil
	case KindDebug:
		return NewDebug(cfg, freq), nil
	}
	return nil, fmt.Errorf("unknown servo %q", kind)
}

func clamp(v, limit float64) float64 {
	if v < -limit {
		return -limit
	}
	if v > limit {
		return limit
	}
	return v
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
