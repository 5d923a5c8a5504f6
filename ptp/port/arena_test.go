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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestArena(t *testing.T) {
	a := newArena[int](4)
	now := time.Unix(100, 0)
	require.False(t, a.put(1, now.Add(time.Second), 10))
	require.False(t, a.put(2, now.Add(2*time.Second), 20))
	require.Equal(t, 2, a.len())

	v, ok := a.get(1)
	require.True(t, ok)
	*v = 11
	got, ok := a.take(1)
	require.True(t, ok)
	require.Equal(t, 11, got)
	_, ok = a.get(1)
	require.False(t, ok)

	// 6 maps onto the slot of 2
	require.True(t, a.put(6, now.Add(3*time.Second), 60))
	_, ok = a.get(2)
	require.False(t, ok)
	require.Equal(t, now.Add(3*time.Second), a.nextDeadline())

	a.put(3, now.Add(time.Second), 30)
	var expired []uint16
	n := a.expire(now.Add(time.Second), func(seq uint16, _ int) { expired = append(expired, seq) })
	require.Equal(t, 1, n)
	require.Equal(t, []uint16{3}, expired)
	require.Equal(t, 1, a.len())

	a.clear()
	require.Zero(t, a.len())
	require.True(t, a.nextDeadline().IsZero())
}

func TestArenaWindowOfOne(t *testing.T) {
	a := newArena[struct{}](0)
	a.put(5, time.Time{}, struct{}{})
	require.True(t, a.put(6, time.Time{}, struct{}{}))
	require.Equal(t, 1, a.len())
}

func TestEarliest(t *testing.T) {
	a := time.Unix(1, 0)
	b := time.Unix(2, 0)
	require.Equal(t, a, earliest(a, b))
	require.Equal(t, a, earliest(b, a))
	require.Equal(t, b, earliest(time.Time{}, b))
	require.Equal(t, a, earliest(a, time.Time{}))
	require.True(t, earliest(time.Time{}, time.Time{}).IsZero())
}

func TestAdvance(t *testing.T) {
	now := time.Unix(10, 0)
	require.Equal(t, time.Unix(11, 0), advance(time.Unix(10, 0), time.Second, now))
	// missed periods are skipped, not burst
	require.Equal(t, time.Unix(11, 0), advance(time.Unix(5, 0), time.Second, now))
}

func TestSlidingWindowMedian(t *testing.T) {
	w := newSlidingWindow(3)
	require.Equal(t, time.Duration(0), w.median())
	w.add(10)
	require.Equal(t, time.Duration(10), w.median())
	w.add(30)
	require.Equal(t, time.Duration(20), w.median())
	w.add(1000)
	require.True(t, w.full())
	require.Equal(t, time.Duration(30), w.median())
	// 10 falls out
	w.add(20)
	require.Equal(t, time.Duration(30), w.median())
	w.reset()
	require.False(t, w.full())
	require.Equal(t, time.Duration(0), w.median())
}

func TestPathDelayFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PathDelayFilterLength = 5
	h := newHarness(t, cfg)
	h.measurePathDelay(t)
	require.NotNil(t, h.port.slave.window)
	require.Equal(t, 10*time.Nanosecond, h.port.slave.window.median())
}
