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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flexptp/ptpengine/servo"
)

func TestTimexOffset(t *testing.T) {
	tests := []struct {
		step time.Duration
		sec  int64
		nsec int64
	}{
		{step: 0, sec: 0, nsec: 0},
		{step: 1500 * time.Millisecond, sec: 1, nsec: 500000000},
		{step: -time.Nanosecond, sec: -1, nsec: 999999999},
		{step: -1500 * time.Millisecond, sec: -2, nsec: 500000000},
		{step: -2 * time.Second, sec: -2, nsec: 0},
	}
	for _, tt := range tests {
		t.Run(tt.step.String(), func(t *testing.T) {
			sec, nsec := timexOffset(tt.step)
			require.Equal(t, tt.sec, sec)
			require.Equal(t, tt.nsec, nsec)
			require.Equal(t, tt.step, time.Duration(sec)*time.Second+time.Duration(nsec))
		})
	}
}

func TestStepTimex(t *testing.T) {
	tx := stepTimex(-1500 * time.Millisecond)
	require.Equal(t, uint32(AdjSetOffset|AdjNano), tx.Modes)
	require.Equal(t, int64(-2), tx.Time.Sec)
	require.Equal(t, int64(500000000), tx.Time.Usec)
}

func TestClampFreq(t *testing.T) {
	require.Equal(t, 100.0, clampFreq(100, 500))
	require.Equal(t, 500.0, clampFreq(900, 500))
	require.Equal(t, -500.0, clampFreq(-900, 500))
}

func TestFDToClockID(t *testing.T) {
	// fd 3 as in linuxptp's FD_TO_CLOCKID
	require.Equal(t, int32(-29), FDToClockID(3))
}

func TestFreeRunning(t *testing.T) {
	base := time.Unix(1700000000, 0)
	f := NewFreeRunning()
	f.now = func() time.Time { return base }

	now, err := f.Now()
	require.NoError(t, err)
	require.Equal(t, base, now)

	require.NoError(t, f.Apply(servo.Correction{FrequencyPPB: 12.5}))
	require.Equal(t, 0, f.Steps())
	freq, err := f.FrequencyPPB()
	require.NoError(t, err)
	require.Equal(t, 12.5, freq)

	require.NoError(t, f.Apply(servo.Correction{FrequencyPPB: -3, Step: -40 * time.Nanosecond, HasStep: true}))
	now, err = f.Now()
	require.NoError(t, err)
	require.Equal(t, base.Add(-40*time.Nanosecond), now)
	require.Equal(t, 1, f.Steps())
}
