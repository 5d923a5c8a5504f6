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

// KalmanConfig holds normalized process and measurement variances of the Kalman servo
type KalmanConfig struct {
	PhaseVariance       float64       `yaml:"phase_variance"`
	SkewVariance        float64       `yaml:"skew_variance"`
	MeasurementVariance float64       `yaml:"measurement_variance"`
	FastThreshold       time.Duration `yaml:"fast_threshold"`
	FastCoefficient     float64       `yaml:"fast_coefficient"`
	CalmCoefficient     float64       `yaml:"calm_coefficient"`
}

// DefaultKalmanConfig returns Kalman servo defaults
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		PhaseVariance:       1e-16,
		SkewVariance:        1e-12,
		MeasurementVariance: 1e-10,
		FastThreshold:       500 * time.Nanosecond,
		FastCoefficient:     0.2,
		CalmCoefficient:     0.01,
	}
}

// Validate checks that variances are usable
func (c KalmanConfig) Validate() error {
	if c.PhaseVariance <= 0 || c.SkewVariance <= 0 || c.MeasurementVariance <= 0 {
		return fmt.Errorf("variances must be positive")
	}
	if c.FastCoefficient <= 0 || c.CalmCoefficient <= 0 {
		return fmt.Errorf("tuning coefficients must be positive")
	}
	return nil
}

type mtx [2][2]float64
type vec [2]float64

func unit() mtx {
	return mtx{{1, 0}, {0, 1}}
}

func (a mtx) add(b mtx) mtx {
	return mtx{{a[0][0] + b[0][0], a[0][1] + b[0][1]}, {a[1][0] + b[1][0], a[1][1] + b[1][1]}}
}

func (a mtx) sub(b mtx) mtx {
	return mtx{{a[0][0] - b[0][0], a[0][1] - b[0][1]}, {a[1][0] - b[1][0], a[1][1] - b[1][1]}}
}

func (a mtx) mul(b mtx) mtx {
	return mtx{
		{a[0][0]*b[0][0] + a[0][1]*b[1][0], a[0][0]*b[0][1] + a[0][1]*b[1][1]},
		{a[1][0]*b[0][0] + a[1][1]*b[1][0], a[1][0]*b[0][1] + a[1][1]*b[1][1]},
	}
}

func (a mtx) dot(v vec) vec {
	return vec{a[0][0]*v[0] + a[0][1]*v[1], a[1][0]*v[0] + a[1][1]*v[1]}
}

func (a mtx) transpose() mtx {
	return mtx{{a[0][0], a[1][0]}, {a[0][1], a[1][1]}}
}

func (a mtx) inverse() mtx {
	det := a[0][0]*a[1][1] - a[0][1]*a[1][0]
	return mtx{{a[1][1] / det, -a[0][1] / det}, {-a[1][0] / det, a[0][0] / det}}
}

func (v vec) add(w vec) vec {
	return vec{v[0] + w[0], v[1] + w[1]}
}

func (v vec) sub(w vec) vec {
	return vec{v[0] - w[0], v[1] - w[1]}
}

// Kalman is a two state (phase, skew) Kalman filter servo as described in
// "Performance Analysis of Kalman-Filter-Based Clock Synchronization in IEEE 1588 Networks"
type Kalman struct {
	cfg    KalmanConfig
	maxPPB float64
	freq   float64

	u vec // control input
	p mtx // a posteriori error covariance
	x vec // a posteriori state

	cycle      uint64
	lastOffset time.Duration
}

// NewKalman creates Kalman servo for a clock running at freq ppb
func NewKalman(cfg *Config, freq float64) *Kalman {
	k := &Kalman{cfg: cfg.Kalman, maxPPB: cfg.MaxFreqPPB, freq: freq}
	k.Reset()
	return k
}

// Reset drops the filter state, keeping the frequency
func (k *Kalman) Reset() {
	k.u = vec{}
	k.p = mtx{}
	k.x = vec{}
	k.cycle = 0
	k.lastOffset = 0
}

// SetFrequency implements Servo
func (k *Kalman) SetFrequency(ppb float64) {
	k.freq = ppb
}

// Locked reports whether the estimated phase is within the calm tuning region
func (k *Kalman) Locked() bool {
	return k.cycle > 1 && math.Abs(k.x[0]) <= k.cfg.FastThreshold.Seconds()
}

// Update implements Servo
func (k *Kalman) Update(offset, _ time.Duration, interval time.Duration) Correction {
	defer func() {
		k.lastOffset = offset
		k.cycle++
	}()
	// first sample only gives us a reference for skew
	if k.cycle == 0 || interval <= 0 {
		return Correction{FrequencyPPB: k.freq, State: StateInit}
	}
	period := float64(interval.Nanoseconds())
	z := vec{
		offset.Seconds(),
		float64(offset-k.lastOffset) / period,
	}

	dt := interval.Seconds()
	a := unit()
	a[0][1] = dt
	b := unit()
	b[0][1] = -dt
	q := mtx{{dt * k.cfg.PhaseVariance, 0}, {0, dt * k.cfg.SkewVariance}}
	// half of timestamp variance goes to each of the two timestamps
	sm := 0.5 * k.cfg.MeasurementVariance
	r := mtx{{sm, sm / dt}, {sm / dt, 2 * sm / (dt * dt)}}

	if k.cycle == 1 {
		k.p = q
		k.x = z
	}

	// prediction
	xPri := a.dot(k.x).add(b.dot(k.u))
	pPri := a.mul(k.p).mul(a.transpose()).add(q)

	// correction
	gain := pPri.mul(pPri.add(r).inverse())
	k.x = xPri.add(gain.dot(z.sub(xPri)))
	k.p = unit().sub(gain).mul(pPri)

	coef := k.cfg.CalmCoefficient
	if math.Abs(k.x[0]) > k.cfg.FastThreshold.Seconds() {
		coef = k.cfg.FastCoefficient
	}
	tuning := -k.x[1] + (-k.x[0]*1e9/period)*coef
	k.u = vec{0, tuning}

	k.freq = clamp(k.freq+tuning*1e9, k.maxPPB)
	state := StateInit
	if k.Locked() {
		state = StateLocked
	}
	log.Debugf("offset %10d servo %s freq %+7.0f phase %.3e skew %.3e", offset.Nanoseconds(), state, k.freq, k.x[0], k.x[1])
	return Correction{FrequencyPPB: k.freq, State: state}
}
