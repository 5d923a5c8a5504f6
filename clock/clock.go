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
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PPBToTimexPPM converts PPB to the timex freq unit.
// man clock_adjtime(2): freq is ppm with a 16-bit fractional part, 2^16=65536 is 1 ppm
const PPBToTimexPPM = 65.536

// DefaultMaxFreqPPB is used when the clock doesn't report its tolerance
const DefaultMaxFreqPPB = 500000.0

// clock_adjtime modes from usr/include/linux/timex.h
const (
	// frequency offset
	AdjFrequency uint32 = 0x0002
	// maximum time error
	AdjMaxError uint32 = 0x0004
	// clock status
	AdjStatus uint32 = 0x0010
	// add 'time' to current time
	AdjSetOffset uint32 = 0x0100
	// select nanosecond resolution
	AdjNano uint32 = 0x2000
)

// FrequencyPPB reads clock frequency in PPB
func FrequencyPPB(clockid int32) (float64, error) {
	tx := &unix.Timex{}
	if _, err := unix.ClockAdjtime(clockid, tx); err != nil {
		return 0, fmt.Errorf("clock_adjtime(%d): %w", clockid, err)
	}
	return float64(tx.Freq) / PPBToTimexPPM, nil
}

// AdjFreqPPB sets clock frequency in PPB
func AdjFreqPPB(clockid int32, freqPPB float64) error {
	tx := &unix.Timex{}
	setFreq(tx, freqPPB)
	tx.Modes = AdjFrequency
	if _, err := unix.ClockAdjtime(clockid, tx); err != nil {
		return fmt.Errorf("adjusting frequency of clock %d to %.3f ppb: %w", clockid, freqPPB, err)
	}
	return nil
}

// timexOffset splits step into timex seconds and nanoseconds, nanoseconds are never negative
func timexOffset(step time.Duration) (sec, nsec int64) {
	sec = int64(step / time.Second)
	nsec = int64(step % time.Second)
	if nsec < 0 {
		sec--
		nsec += int64(time.Second)
	}
	return sec, nsec
}

func stepTimex(step time.Duration) *unix.Timex {
	tx := &unix.Timex{}
	tx.Modes = AdjSetOffset | AdjNano
	sec, nsec := timexOffset(step)
	setTime(tx, sec, nsec)
	return tx
}

// Step adds step to the clock time
func Step(clockid int32, step time.Duration) error {
	tx := stepTimex(step)
	if _, err := unix.ClockAdjtime(clockid, tx); err != nil {
		return fmt.Errorf("stepping clock %d by %v: %w", clockid, step, err)
	}
	return nil
}

// MaxFreqPPB returns maximum frequency adjustment supported by the clock
func MaxFreqPPB(clockid int32) (float64, error) {
	tx := &unix.Timex{}
	if _, err := unix.ClockAdjtime(clockid, tx); err != nil {
		return 0, fmt.Errorf("clock_adjtime(%d): %w", clockid, err)
	}
	freqPPB := float64(tx.Tolerance) / PPBToTimexPPM
	if freqPPB == 0 {
		freqPPB = DefaultMaxFreqPPB
	}
	return freqPPB, nil
}

// SetSync sets clock status to TIME_OK
func SetSync(clockid int32) error {
	tx := &unix.Timex{}
	tx.Modes = AdjStatus | AdjMaxError
	state, err := unix.ClockAdjtime(clockid, tx)
	if err == nil && state != unix.TIME_OK {
		return fmt.Errorf("clock state %d is not TIME_OK after setting sync state", state)
	}
	return err
}
