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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cfg := DefaultConfig()
	s, err := New(KindPID, cfg, 0)
	require.NoError(t, err)
	require.IsType(t, &PID{}, s)
	require.Nil(t, s.(*PID).filter)

	cfg.Filter = DefaultFilterConfig()
	s, err = New(KindPID, cfg, 0)
	require.NoError(t, err)
	require.NotNil(t, s.(*PID).filter)

	s, err = New(KindKalman, cfg, 0)
	require.NoError(t, err)
	require.IsType(t, &Kalman{}, s)

	s, err = New(KindDebug, cfg, 0)
	require.NoError(t, err)
	require.IsType(t, &Debug{}, s)

	_, err = New("lqr", cfg, 0)
	require.Error(t, err)

	cfg.MaxFreqPPB = 0
	_, err = New(KindPID, cfg, 0)
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("kalman")
	require.NoError(t, err)
	require.Equal(t, KindKalman, k)
	_, err = ParseKind("KALMAN")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Filter = &FilterConfig{}
	require.ErrorContains(t, cfg.Validate(), "invalid filter config")

	cfg = DefaultConfig()
	cfg.Kalman.SkewVariance = 0
	require.ErrorContains(t, cfg.Validate(), "invalid kalman config")

	cfg = DefaultConfig()
	cfg.PID.KiNormMax = 0
	require.ErrorContains(t, cfg.Validate(), "invalid pid config")
}

func TestCorrectionString(t *testing.T) {
	require.Equal(t, "LOCKED freq +12.500", Correction{FrequencyPPB: 12.5, State: StateLocked}.String())
	require.Equal(t, "JUMP freq -1.000 step -1µs", Correction{FrequencyPPB: -1, Step: -time.Microsecond, HasStep: true, State: StateJump}.String())
}

// clock running 10ppm fast, servo output is applied right after every sample
func TestKalmanConverges(t *testing.T) {
	k := NewKalman(DefaultConfig(), 0)
	require.False(t, k.Locked())

	const drift = 10000.0
	offset := 5000.0
	var c Correction
	for i := 0; i < 200; i++ {
		c = k.Update(time.Duration(offset), 0, time.Second)
		if i == 0 {
			require.Equal(t, StateInit, c.State)
			require.Equal(t, 0.0, c.FrequencyPPB)
		}
		offset += drift + c.FrequencyPPB
	}
	require.InDelta(t, -drift, c.FrequencyPPB, 50)
	require.Less(t, math.Abs(offset), 500.0)
	require.True(t, k.Locked())
	require.Equal(t, StateLocked, c.State)

	k.Reset()
	require.False(t, k.Locked())
	// frequency survives reset
	c = k.Update(0, 0, time.Second)
	require.InDelta(t, -drift, c.FrequencyPPB, 50)
}

func TestKalmanClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFreqPPB = 1000
	k := NewKalman(cfg, 0)
	k.Update(0, 0, time.Second)
	c := k.Update(time.Millisecond, 0, time.Second)
	require.Equal(t, -1000.0, c.FrequencyPPB)
}

func TestDebug(t *testing.T) {
	d := NewDebug(DefaultConfig(), 12)
	require.False(t, d.Locked())
	c := d.Update(100, 0, time.Second)
	require.Equal(t, 12.0, c.FrequencyPPB)
	c = d.Update(300, 0, time.Second)
	require.Equal(t, 12.0, c.FrequencyPPB)
	require.InDelta(t, 200.0, d.LastSkew(), 0.0001)

	d.Tune(-5)
	c = d.Update(300, 0, time.Second)
	require.Equal(t, 7.0, c.FrequencyPPB)
	// one shot
	c = d.Update(300, 0, time.Second)
	require.Equal(t, 7.0, c.FrequencyPPB)
	require.False(t, d.Locked())

	d.SetFrequency(0)
	c = d.Update(300, 0, time.Second)
	require.Equal(t, 0.0, c.FrequencyPPB)
}

func TestDebugBaselines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug = DebugConfig{SkewOffsetPPB: 150, TimeOffset: 40}
	d := NewDebug(cfg, 0)
	require.Equal(t, 150.0, d.skew0)
	require.Equal(t, time.Duration(40), d.offset0)

	d.Update(100, 0, time.Second)
	d.Update(300, 0, time.Second)
	require.InDelta(t, 200.0, d.LastSkew(), 0.0001)
	// 300 - 40 - (200 - 150) ns
	require.Equal(t, time.Duration(210), d.lastRel)

	d.Reset()
	require.Equal(t, 150.0, d.skew0)
	require.Equal(t, time.Duration(40), d.offset0)
	require.Zero(t, d.lastRel)

	var s Servo = d
	_, ok := s.(Tuner)
	require.True(t, ok)
	s = NewPID(cfg, 0)
	_, ok = s.(Tuner)
	require.False(t, ok)
}

func TestLockDetectorHysteresis(t *testing.T) {
	cfg := DefaultLockConfig()
	cfg.FilterCutoffHz = 0
	d := NewLockDetector(cfg)

	notifications := 0
	feed := func(offsets ...time.Duration) {
		for _, o := range offsets {
			if _, changed := d.Update(o, time.Second, true); changed {
				notifications++
			}
		}
	}
	feed(500, 150, 90, 150, 199, -180, 60, 120, -150)
	require.True(t, d.Locked())
	require.Equal(t, 1, notifications)

	feed(250)
	require.False(t, d.Locked())
	require.Equal(t, 2, notifications)

	// between thresholds doesn't lock again
	feed(150, -150, 110)
	require.False(t, d.Locked())
	require.Equal(t, 2, notifications)
}

func TestLockDetectorFilter(t *testing.T) {
	d := NewLockDetector(DefaultLockConfig())
	require.Equal(t, 10000.0, d.Filtered())
	for i := 0; i < 7; i++ {
		locked, changed := d.Update(0, time.Second, true)
		require.False(t, locked)
		require.False(t, changed)
	}
	locked, changed := d.Update(0, time.Second, true)
	require.True(t, locked)
	require.True(t, changed)

	locked, changed = d.Update(0, time.Second, false)
	require.False(t, locked)
	require.True(t, changed)

	d.Reset()
	require.False(t, d.Locked())
	require.Equal(t, 10000.0, d.Filtered())
}

func TestLockConfigValidate(t *testing.T) {
	require.NoError(t, DefaultLockConfig().Validate())
	cfg := DefaultLockConfig()
	cfg.ExitThreshold = cfg.EnterThreshold - 1
	require.Error(t, cfg.Validate())
}
