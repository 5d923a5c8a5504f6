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
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/flexptp/ptpengine/servo"
)

// adjuster applies servo corrections to a clock id
type adjuster struct {
	id      int32
	maxFreq float64
	// steps is false for clocks we must never step
	steps bool
}

func newAdjuster(id int32, steps bool) (*adjuster, error) {
	maxFreq, err := MaxFreqPPB(id)
	if err != nil {
		return nil, err
	}
	return &adjuster{id: id, maxFreq: maxFreq, steps: steps}, nil
}

func (a *adjuster) now() (time.Time, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(a.id, &ts); err != nil {
		return time.Time{}, fmt.Errorf("clock_gettime(%d): %w", a.id, err)
	}
	return time.Unix(ts.Unix()), nil
}

func (a *adjuster) apply(c servo.Correction) error {
	if c.HasStep {
		if !a.steps {
			log.Warningf("clock %d: refusing to step by %v", a.id, c.Step)
		} else if err := Step(a.id, c.Step); err != nil {
			return err
		}
	}
	freq := clampFreq(c.FrequencyPPB, a.maxFreq)
	if freq != c.FrequencyPPB {
		log.Debugf("clock %d: frequency %.3f clamped to %.3f", a.id, c.FrequencyPPB, freq)
	}
	return AdjFreqPPB(a.id, freq)
}

func clampFreq(freq, max float64) float64 {
	return math.Max(-max, math.Min(max, freq))
}
