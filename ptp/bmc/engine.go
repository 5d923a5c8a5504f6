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

package bmc

import (
	"fmt"
	"time"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
	log "github.com/sirupsen/logrus"
)

// Engine defaults
const (
	DefaultAnnounceReceiptTimeout = 3
	DefaultListeningTimeout       = 3 * time.Second
	DefaultForeignMasterThreshold = 1
	DefaultPreMasterIntervals     = 4
	// announces that travelled this far are discarded
	maxStepsRemoved = 255
	// log intervals above this are treated as garbage
	maxAnnounceLogInterval = 12
)

// StateChangeFunc is called on every port state transition
type StateChangeFunc func(from, to ptp.PortState, now time.Time)

// Config tunes the election engine
type Config struct {
	// Local is the dataset describing our own clock
	Local                  Dataset
	SlaveOnly              bool
	AnnounceInterval       time.Duration
	AnnounceReceiptTimeout int
	ListeningTimeout       time.Duration
	// PreMasterGuard defaults to DefaultPreMasterIntervals announce intervals
	PreMasterGuard          time.Duration
	ForeignMasterThreshold  int
	UncalibratedUntilOffset bool
}

func (c *Config) setDefaults() {
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = time.Second
	}
	if c.AnnounceReceiptTimeout <= 0 {
		c.AnnounceReceiptTimeout = DefaultAnnounceReceiptTimeout
	}
	if c.ListeningTimeout <= 0 {
		c.ListeningTimeout = DefaultListeningTimeout
	}
	if c.PreMasterGuard <= 0 {
		c.PreMasterGuard = DefaultPreMasterIntervals * c.AnnounceInterval
	}
	if c.ForeignMasterThreshold <= 0 {
		c.ForeignMasterThreshold = DefaultForeignMasterThreshold
	}
}

type foreignMaster struct {
	ds       *Dataset
	count    int
	deadline time.Time
}

// Engine runs the best master clock algorithm and the port state machine.
// It is not safe for concurrent use, the owner drives it from a single goroutine.
type Engine struct {
	cfg      Config
	local    Dataset
	state    ptp.PortState
	since    time.Time
	best     *Dataset
	foreign  map[ptp.PortIdentity]*foreignMaster
	onChange StateChangeFunc
}

// NewEngine returns an engine in Initializing state
func NewEngine(cfg Config, onChange StateChangeFunc) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:      cfg,
		local:    cfg.Local,
		state:    ptp.PortStateInitializing,
		foreign:  map[ptp.PortIdentity]*foreignMaster{},
		onChange: onChange,
	}
}

// State returns current port state
func (e *Engine) State() ptp.PortState {
	return e.state
}

// Since returns the time current state was entered
func (e *Engine) Since() time.Time {
	return e.since
}

// Local returns the dataset of our own clock, with UTC offset learnt from the network
func (e *Engine) Local() Dataset {
	return e.local
}

// Best returns the winning dataset, which may be the local one, or nil if there is none
func (e *Engine) Best() *Dataset {
	return e.best
}

// Parent returns the remote master we follow, nil when we don't follow anybody
func (e *Engine) Parent() *Dataset {
	if e.best == nil || e.best == &e.local {
		return nil
	}
	return e.best
}

// Candidates returns the number of entries in the foreign master table
func (e *Engine) Candidates() int {
	return len(e.foreign)
}

func (e *Engine) running() bool {
	switch e.state {
	case ptp.PortStateInitializing, ptp.PortStateFaulty, ptp.PortStateDisabled:
		return false
	}
	return true
}

func (e *Engine) masterCapable() bool {
	return !e.cfg.SlaveOnly
}

func (e *Engine) setState(to ptp.PortState, now time.Time) {
	if to == e.state {
		return
	}
	from := e.state
	e.state = to
	e.since = now
	log.Infof("port state %s -> %s", from, to)
	if e.onChange != nil {
		e.onChange(from, to, now)
	}
}

func (e *Engine) clear() {
	e.foreign = map[ptp.PortIdentity]*foreignMaster{}
	e.best = nil
}

// Start moves a freshly initialized engine to Listening
func (e *Engine) Start(now time.Time) {
	if e.state != ptp.PortStateInitializing {
		return
	}
	e.clear()
	if e.masterCapable() {
		e.best = &e.local
	}
	e.setState(ptp.PortStateListening, now)
}

// OnAnnounce registers or refreshes a foreign master and reruns the election
func (e *Engine) OnAnnounce(ds *Dataset, logInterval ptp.LogInterval, now time.Time) error {
	if !e.running() {
		return fmt.Errorf("announce ignored in state %s", e.state)
	}
	if ds.StepsRemoved >= maxStepsRemoved {
		return fmt.Errorf("announce from %s has steps removed %d", ds.Sender, ds.StepsRemoved)
	}
	if ds.Sender.ClockIdentity == e.local.Sender.ClockIdentity {
		return fmt.Errorf("announce from own clock %s", ds.Sender)
	}
	interval := e.cfg.AnnounceInterval
	if logInterval <= maxAnnounceLogInterval {
		interval = logInterval.Duration()
	}
	fm, ok := e.foreign[ds.Sender]
	if !ok {
		fm = &foreignMaster{}
		e.foreign[ds.Sender] = fm
		log.Debugf("new foreign master %s", ds)
	}
	fm.ds = ds
	if fm.count < e.cfg.ForeignMasterThreshold {
		fm.count++
	}
	fm.deadline = now.Add(time.Duration(e.cfg.AnnounceReceiptTimeout) * interval)
	if ds.CurrentUTCOffset > e.local.CurrentUTCOffset {
		log.Infof("current UTC offset %d -> %d learnt from %s", e.local.CurrentUTCOffset, ds.CurrentUTCOffset, ds.Sender)
		e.local.CurrentUTCOffset = ds.CurrentUTCOffset
	}
	e.decide(now)
	return nil
}

// OnAnnounceTimeout drops every foreign master whose receipt deadline passed,
// reruns the election if anything was dropped and returns the number of dropped entries.
func (e *Engine) OnAnnounceTimeout(now time.Time) int {
	expired := 0
	for id, fm := range e.foreign {
		if !now.Before(fm.deadline) {
			log.Warningf("announce receipt timeout for %s", id)
			delete(e.foreign, id)
			expired++
		}
	}
	if expired > 0 && e.running() {
		e.decide(now)
	}
	return expired
}

// Tick expires candidates and applies state timers. It returns the number of expired candidates.
func (e *Engine) Tick(now time.Time) int {
	if !e.running() {
		return 0
	}
	expired := e.OnAnnounceTimeout(now)
	if e.state == ptp.PortStateUncalibrated && !e.cfg.UncalibratedUntilOffset {
		e.setState(ptp.PortStateSlave, now)
	}
	e.decide(now)
	return expired
}

// Calibrated promotes Uncalibrated to Slave
func (e *Engine) Calibrated(now time.Time) {
	if e.state == ptp.PortStateUncalibrated {
		e.setState(ptp.PortStateSlave, now)
	}
}

// NextDeadline returns the earliest time Tick has work to do, zero time if there is none
func (e *Engine) NextDeadline() time.Time {
	if !e.running() {
		return time.Time{}
	}
	var next time.Time
	earlier := func(t time.Time) {
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	for _, fm := range e.foreign {
		earlier(fm.deadline)
	}
	switch e.state {
	case ptp.PortStateListening:
		if e.masterCapable() {
			earlier(e.since.Add(e.cfg.ListeningTimeout))
		}
	case ptp.PortStatePreMaster:
		earlier(e.since.Add(e.cfg.PreMasterGuard))
	case ptp.PortStateUncalibrated:
		if !e.cfg.UncalibratedUntilOffset {
			earlier(e.since)
		}
	}
	return next
}

// Fault moves the port to Faulty
func (e *Engine) Fault(now time.Time) {
	e.clear()
	e.setState(ptp.PortStateFaulty, now)
}

// Disable moves the port to Disabled
func (e *Engine) Disable(now time.Time) {
	e.clear()
	e.setState(ptp.PortStateDisabled, now)
}

// Reset moves the port back to Initializing, Start has to be called again
func (e *Engine) Reset(now time.Time) {
	e.clear()
	e.local.CurrentUTCOffset = e.cfg.Local.CurrentUTCOffset
	e.setState(ptp.PortStateInitializing, now)
}

func (e *Engine) qualified() []*Dataset {
	res := make([]*Dataset, 0, len(e.foreign))
	for _, fm := range e.foreign {
		if fm.count >= e.cfg.ForeignMasterThreshold {
			res = append(res, fm.ds)
		}
	}
	return res
}

// decide runs the election over qualified candidates and applies the state decision
func (e *Engine) decide(now time.Time) {
	remote := Best(e.qualified()...)
	switch {
	case remote == nil && !e.masterCapable():
		e.best = nil
		e.lostMaster(now)
	case remote == nil:
		e.best = &e.local
		e.recommendMaster(now, true)
	case Better(&e.local, remote) && e.masterCapable():
		e.best = &e.local
		e.recommendMaster(now, false)
	case Better(&e.local, remote):
		e.best = nil
		e.setState(ptp.PortStatePassive, now)
	default:
		e.recommendSlave(remote, now)
	}
}

func (e *Engine) lostMaster(now time.Time) {
	switch e.state {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated, ptp.PortStatePassive:
		e.setState(ptp.PortStateListening, now)
	}
}

func (e *Engine) recommendMaster(now time.Time, noCandidates bool) {
	switch e.state {
	case ptp.PortStateListening:
		if !now.Before(e.since.Add(e.cfg.ListeningTimeout)) {
			e.setState(ptp.PortStatePreMaster, now)
		}
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		if noCandidates {
			e.setState(ptp.PortStateListening, now)
			return
		}
		e.setState(ptp.PortStatePreMaster, now)
	case ptp.PortStatePassive:
		e.setState(ptp.PortStatePreMaster, now)
	case ptp.PortStatePreMaster:
		if !now.Before(e.since.Add(e.cfg.PreMasterGuard)) {
			e.setState(ptp.PortStateMaster, now)
		}
	}
}

func (e *Engine) recommendSlave(remote *Dataset, now time.Time) {
	prev := e.Parent()
	e.best = remote
	switch e.state {
	case ptp.PortStateListening, ptp.PortStatePreMaster, ptp.PortStateMaster, ptp.PortStatePassive:
		e.setState(ptp.PortStateUncalibrated, now)
	case ptp.PortStateSlave:
		if prev == nil || prev.Sender != remote.Sender || prev.GrandmasterIdentity != remote.GrandmasterIdentity {
			log.Infof("new master %s", remote)
			e.setState(ptp.PortStateUncalibrated, now)
		}
	}
}
