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

import "time"

type slot[T any] struct {
	used     bool
	seq      uint16
	deadline time.Time
	val      T
}

// arena correlates in-flight exchanges by sequence id. Slots are indexed by
// seq % window, so a new exchange silently replaces one that is window
// sequence numbers older.
type arena[T any] struct {
	slots []slot[T]
}

func newArena[T any](window int) *arena[T] {
	if window < 1 {
		window = 1
	}
	return &arena[T]{slots: make([]slot[T], window)}
}

func (a *arena[T]) slot(seq uint16) *slot[T] {
	return &a.slots[int(seq)%len(a.slots)]
}

// put stores v under seq and reports whether an unfinished exchange was evicted
func (a *arena[T]) put(seq uint16, deadline time.Time, v T) bool {
	s := a.slot(seq)
	evicted := s.used && s.seq != seq
	*s = slot[T]{used: true, seq: seq, deadline: deadline, val: v}
	return evicted
}

// get returns a pointer to the value stored under seq so callers can update it in place
func (a *arena[T]) get(seq uint16) (*T, bool) {
	s := a.slot(seq)
	if !s.used || s.seq != seq {
		return nil, false
	}
	return &s.val, true
}

func (a *arena[T]) take(seq uint16) (T, bool) {
	var zero T
	s := a.slot(seq)
	if !s.used || s.seq != seq {
		return zero, false
	}
	v := s.val
	*s = slot[T]{}
	return v, true
}

// expire drops every exchange whose deadline is not after now
func (a *arena[T]) expire(now time.Time, f func(seq uint16, v T)) int {
	n := 0
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used || s.deadline.After(now) {
			continue
		}
		seq, v := s.seq, s.val
		*s = slot[T]{}
		n++
		if f != nil {
			f(seq, v)
		}
	}
	return n
}

func (a *arena[T]) nextDeadline() time.Time {
	var next time.Time
	for i := range a.slots {
		s := &a.slots[i]
		if s.used && (next.IsZero() || s.deadline.Before(next)) {
			next = s.deadline
		}
	}
	return next
}

func (a *arena[T]) len() int {
	n := 0
	for i := range a.slots {
		if a.slots[i].used {
			n++
		}
	}
	return n
}

func (a *arena[T]) clear() {
	for i := range a.slots {
		a.slots[i] = slot[T]{}
	}
}

// earliest returns the earlier of two deadlines, ignoring zero ones
func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}
