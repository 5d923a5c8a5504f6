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

package port

import (
	"math"
	"sort"
	"time"
)

// slidingWindow keeps last size path delay samples
type slidingWindow struct {
	size        int
	currentSize int
	samples     []float64
	sorted      []float64
}

func newSlidingWindow(size int) *slidingWindow {
	if size < 1 {
		size = 1
	}
	w := &slidingWindow{
		size:    size,
		samples: make([]float64, size),
		sorted:  make([]float64, size),
	}
	for i := range w.size {
		w.samples[i] = math.NaN()
	}
	return w
}

func (w *slidingWindow) add(sample time.Duration) {
	if !w.full() {
		w.currentSize++
	}
	for i := w.currentSize - 1; i > 0; i-- {
		w.samples[i] = w.samples[i-1]
	}
	w.samples[0] = float64(sample)
}

func (w *slidingWindow) median() time.Duration {
	c := w.sorted[:w.currentSize]
	copy(c, w.samples[:w.currentSize])
	sort.Float64s(c)
	l := len(c)
	if l == 0 {
		return 0
	} else if l%2 == 0 {
		return time.Duration((c[l/2-1] + c[l/2]) / 2)
	}
	return time.Duration(c[l/2])
}

func (w *slidingWindow) full() bool {
	return w.currentSize == w.size
}

func (w *slidingWindow) reset() {
	w.currentSize = 0
	for i := range w.size {
		w.samples[i] = math.NaN()
	}
}
