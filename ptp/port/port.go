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
Package port implements a single PTP port: the BMCA state machine, master,
slave and peer delay messaging, and the servo loop, all driven by explicit
time and messages handed in by the caller.

A Port is not safe for concurrent use. One goroutine feeds it received
messages, transmit timestamps and ticks at NextDeadline.
*/
package port

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/flexptp/ptpengine/ptp/bmc"
	"github.com/flexptp/ptpengine/ptp/profile"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
	"github.com/flexptp/ptpengine/servo"
)

// SendHandle identifies a sent event message so its transmit timestamp can be matched
type SendHandle struct {
	MessageType ptp.MessageType
	SequenceID  uint16
}

// Network sends PTP messages. Event messages get their transmit timestamp
// delivered later through Port.TxTimestamp.
type Network interface {
	Send(p ptp.Packet, event bool) (SendHandle, error)
}

// Clock is the disciplined clock
type Clock interface {
	Now() (time.Time, error)
	Apply(c servo.Correction) error
}

// StatsServer is a stats server interface
type StatsServer interface {
	// Reset atomically sets all the counters to 0
	Reset()
	SetCounter(key string, val int64)
	UpdateCounterBy(key string, count int64)
	// AddSample feeds a measurement into the summary named key
	AddSample(key string, val float64)
}

// counter names
const (
	CounterDecodeErrors     = "decode_errors"
	CounterSequenceMismatch = "sequence_mismatch"
	CounterExchangeTimeouts = "exchange_timeouts"
	CounterNetworkErrors    = "network_errors"
	CounterForeignMessages  = "foreign_messages"
	CounterReplays          = "replays"
	CounterSequenceResyncs  = "sequence_resyncs"
	CounterFiltered         = "filtered"
	CounterAnnounceTimeouts = "announce_timeouts"
	CounterStateChanges     = "state_changes"
	CounterClockSteps       = "clock_steps"
	CounterCoarse           = "coarse_compensations"
	CounterFaults           = "faults"
	CounterState            = "port_state"
	CounterLocked           = "locked"
)

// sample names
const (
	SampleOffset    = "offset_ns"
	SamplePathDelay = "path_delay_ns"
	SampleFrequency = "freq_ppb"
)

// RxCounter is the name of the counter of received messages of type t
func RxCounter(t ptp.MessageType) string {
	return "rx." + strings.ToLower(t.String())
}

// TxCounter is the name of the counter of sent messages of type t
func TxCounter(t ptp.MessageType) string {
	return "tx." + strings.ToLower(t.String())
}

// Stats is a snapshot of the port
type Stats struct {
	State         ptp.PortState
	Parent        *ptp.PortIdentity
	Grandmaster   ptp.ClockIdentity
	Offset        time.Duration
	PathDelay     time.Duration
	FrequencyPPB  float64
	FilteredError float64
	Locked        bool
	Peer          PeerInfo
	Counters      map[string]int64
}

// Port is a single PTP port
type Port struct {
	cfg   *Config
	net   Network
	clk   Clock
	srv   servo.Servo
	obs   Observer
	stats StatsServer

	bmc    *bmc.Engine
	master *master
	slave  *slave
	peer   *peer
	lock   *servo.LockDetector

	started   bool
	freq      float64
	netErrors int
	offset    time.Duration
	pathDelay time.Duration
	counters  map[string]int64
}

// New creates a port. obs and stats may be nil.
func New(cfg *Config, net Network, clk Clock, srv servo.Servo, obs Observer, stats StatsServer) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid port config: %w", err)
	}
	if net == nil || clk == nil || srv == nil {
		return nil, fmt.Errorf("network, clock and servo must be provided")
	}
	if obs == nil {
		obs = NopObserver{}
	}
	p := &Port{
		cfg:      cfg,
		net:      net,
		clk:      clk,
		srv:      srv,
		obs:      obs,
		stats:    stats,
		lock:     servo.NewLockDetector(cfg.Lock),
		counters: map[string]int64{},
	}
	p.bmc = bmc.NewEngine(cfg.bmcConfig(), p.onStateChange)
	p.master = newMaster(p)
	p.slave = newSlave(p)
	p.peer = newPeer(p)
	return p, nil
}

// SetFrequency tells the port (and the servo) the clock frequency it starts from
func (p *Port) SetFrequency(ppb float64) {
	p.freq = ppb
	p.srv.SetFrequency(ppb)
}

// Start moves the port out of Initializing
func (p *Port) Start(now time.Time) error {
	if p.started {
		return fmt.Errorf("port %s already started", p.cfg.Identity)
	}
	p.started = true
	p.bmc.Start(now)
	if p.p2p() {
		p.peer.start(now)
	}
	log.Infof("port %s started with profile %s (%s, %s)", p.cfg.Identity, p.cfg.Profile.Name, p.cfg.Profile.DelayMechanism, p.cfg.Profile.Transport)
	p.obs.Event(EventInitDone)
	return nil
}

// State returns current port state
func (p *Port) State() ptp.PortState {
	return p.bmc.State()
}

// Identity returns our port identity
func (p *Port) Identity() ptp.PortIdentity {
	return p.cfg.Identity
}

func (p *Port) active() bool {
	if !p.started {
		return false
	}
	switch p.bmc.State() {
	case ptp.PortStateInitializing, ptp.PortStateDisabled, ptp.PortStateFaulty:
		return false
	}
	return true
}

func (p *Port) isSlave() bool {
	s := p.bmc.State()
	return s == ptp.PortStateSlave || s == ptp.PortStateUncalibrated
}

func (p *Port) p2p() bool {
	return p.cfg.Profile.DelayMechanism == profile.P2P
}

// HandleRaw decodes b and handles the message
func (p *Port) HandleRaw(b []byte, rx, now time.Time) error {
	if !p.active() {
		return nil
	}
	pkt, err := ptp.DecodePacket(b)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDecode, err)
		mt, _ := ptp.ProbeMsgType(b)
		p.fail(err, mt, 0, now)
		return err
	}
	return p.HandleMessage(pkt, rx, now)
}

// HandleMessage processes a received message. rx is its receive timestamp.
// Discarded messages are reported through the returned error as well as the Observer.
func (p *Port) HandleMessage(pkt ptp.Packet, rx, now time.Time) error {
	if !p.active() {
		return nil
	}
	h := pkt.PacketHeader()
	if h.DomainNumber != p.cfg.Profile.DomainNumber || h.SdoIDAndMsgType.SdoID() != p.cfg.Profile.TransportSpecific {
		p.count(CounterFiltered, 1)
		return nil
	}
	// our own multicast coming back
	if h.SourcePortIdentity.ClockIdentity == p.cfg.Identity.ClockIdentity {
		p.count(CounterFiltered, 1)
		return nil
	}
	mt := pkt.MessageType()
	p.count(RxCounter(mt), 1)

	var err error
	switch v := pkt.(type) {
	case *ptp.Announce:
		p.handleAnnounce(v, now)
	case *ptp.SyncDelayReq:
		if mt == ptp.MessageSync {
			if p.isSlave() {
				err = p.slave.handleSync(v, rx, now)
			}
		} else if p.State() == ptp.PortStateMaster && !p.p2p() {
			err = p.master.handleDelayReq(v, rx)
		}
	case *ptp.FollowUp:
		if p.isSlave() {
			err = p.slave.handleFollowUp(v, now)
		}
	case *ptp.DelayResp:
		if p.isSlave() && !p.p2p() {
			err = p.slave.handleDelayResp(v, now)
		}
	case *ptp.PDelayReq:
		if p.p2p() {
			err = p.peer.handleRequest(v, rx, now)
		}
	case *ptp.PDelayResp:
		if p.p2p() {
			err = p.peer.handleResponse(v, rx, now)
		}
	case *ptp.PDelayRespFollowUp:
		if p.p2p() {
			err = p.peer.handleResponseFollowUp(v, now)
		}
	}
	if err != nil {
		p.fail(err, mt, h.SequenceID, now)
	}
	return err
}

func (p *Port) handleAnnounce(a *ptp.Announce, now time.Time) {
	p.obs.Event(EventAnnounceReceived)
	ds := bmc.DatasetFromAnnounce(a, p.cfg.Identity)
	if err := p.bmc.OnAnnounce(ds, a.LogMessageInterval, now); err != nil {
		log.Debugf("announce from %s ignored: %v", a.SourcePortIdentity, err)
		p.count(CounterFiltered, 1)
	}
}

// TxTimestamp delivers the transmit timestamp of a previously sent event message
func (p *Port) TxTimestamp(h SendHandle, ts, now time.Time) {
	if !p.active() {
		return
	}
	var err error
	switch h.MessageType {
	case ptp.MessageSync:
		if p.State() == ptp.PortStateMaster {
			err = p.master.txTimestamp(h.SequenceID, ts)
		}
	case ptp.MessageDelayReq:
		if p.isSlave() {
			err = p.slave.txTimestamp(h.SequenceID, ts, now)
		}
	case ptp.MessagePDelayReq:
		err = p.peer.requestSent(h.SequenceID, ts)
	case ptp.MessagePDelayResp:
		err = p.peer.responseSent(h.SequenceID, ts)
	}
	if err != nil {
		p.fail(err, h.MessageType, h.SequenceID, now)
	}
}

// Tick runs everything due at now
func (p *Port) Tick(now time.Time) {
	if !p.active() {
		return
	}
	if n := p.bmc.Tick(now); n > 0 {
		p.count(CounterAnnounceTimeouts, int64(n))
	}
	switch p.State() {
	case ptp.PortStateMaster:
		p.master.tick(now)
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		p.slave.tick(now)
	}
	if p.p2p() && p.active() {
		p.peer.tick(now)
	}
}

// NextDeadline returns when Tick has to be called next. Zero time means nothing is scheduled.
func (p *Port) NextDeadline() time.Time {
	if !p.active() {
		return time.Time{}
	}
	next := p.bmc.NextDeadline()
	switch p.State() {
	case ptp.PortStateMaster:
		next = earliest(next, p.master.nextDeadline())
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		next = earliest(next, p.slave.nextDeadline())
	}
	if p.p2p() {
		next = earliest(next, p.peer.nextDeadline())
	}
	return next
}

// Reset clears all state and starts over
func (p *Port) Reset(now time.Time) {
	p.master.reset()
	p.slave.reset()
	p.peer.reset()
	p.srv.Reset()
	p.unlock()
	p.netErrors = 0
	p.offset, p.pathDelay = 0, 0
	for k := range p.counters {
		p.counters[k] = 0
	}
	if p.stats != nil {
		p.stats.Reset()
	}
	p.bmc.Reset(now)
	p.started = false
	p.obs.Event(EventResetDone)
	// can't fail, started was cleared
	_ = p.Start(now)
}

// Disable stops all protocol activity until Reset
func (p *Port) Disable(now time.Time) {
	p.bmc.Disable(now)
	p.peer.reset()
}

// Fault moves the port to Faulty until Reset
func (p *Port) Fault(err error, now time.Time) {
	p.count(CounterFaults, 1)
	p.obs.Error(ErrorEvent{Err: err, Fatal: true})
	p.bmc.Fault(now)
	p.peer.reset()
}

// Stats returns a snapshot of the port
func (p *Port) Stats() Stats {
	s := Stats{
		State:         p.State(),
		Offset:        p.offset,
		PathDelay:     p.pathDelay,
		FrequencyPPB:  p.freq,
		FilteredError: p.lock.Filtered(),
		Locked:        p.lock.Locked(),
		Peer:          p.peer.info,
		Counters:      make(map[string]int64, len(p.counters)),
	}
	if parent := p.bmc.Parent(); parent != nil {
		sender := parent.Sender
		s.Parent = &sender
	}
	if best := p.bmc.Best(); best != nil {
		s.Grandmaster = best.GrandmasterIdentity
	}
	for k, v := range p.counters {
		s.Counters[k] = v
	}
	return s
}

func (p *Port) onStateChange(from, to ptp.PortState, now time.Time) {
	p.count(CounterStateChanges, 1)
	p.setCounter(CounterState, int64(to))
	wasSlave := from == ptp.PortStateSlave || from == ptp.PortStateUncalibrated
	isSlave := to == ptp.PortStateSlave || to == ptp.PortStateUncalibrated
	if wasSlave && !isSlave {
		p.slave.reset()
		p.unlock()
	}
	if from == ptp.PortStateMaster && to != ptp.PortStateMaster {
		p.master.reset()
	}
	// new master, start measuring from scratch
	if to == ptp.PortStateUncalibrated {
		p.slave.reset()
		p.srv.Reset()
		p.unlock()
	}
	if to == ptp.PortStateMaster {
		p.master.start(now)
	}
	p.obs.RoleChanged(from, to)
	p.obs.Event(EventStateChanged)
}

func (p *Port) unlock() {
	wasLocked := p.lock.Locked()
	p.lock.Reset()
	if wasLocked {
		p.setCounter(CounterLocked, 0)
		p.obs.LockChanged(false)
		p.obs.Event(EventUnlocked)
	}
}

func (p *Port) updateLock(offset, interval time.Duration) {
	locked, changed := p.lock.Update(offset, interval, p.bmc.Parent() != nil)
	if !changed {
		return
	}
	if locked {
		p.setCounter(CounterLocked, 1)
		p.obs.LockChanged(true)
		p.obs.Event(EventLocked)
		return
	}
	p.setCounter(CounterLocked, 0)
	p.obs.LockChanged(false)
	p.obs.Event(EventUnlocked)
}

// fail accounts err and escalates hardware clock faults and sustained network errors
func (p *Port) fail(err error, mt ptp.MessageType, seq uint16, now time.Time) {
	switch {
	case errors.Is(err, ErrHardwareClock):
		p.Fault(err, now)
		return
	case errors.Is(err, ErrNetwork):
		p.count(CounterNetworkErrors, 1)
		p.netErrors++
		p.obs.Event(EventNetworkError)
		if p.netErrors >= p.cfg.MaxNetworkErrors {
			p.Fault(fmt.Errorf("%d consecutive send failures: %w", p.netErrors, err), now)
			return
		}
	case errors.Is(err, ErrExchangeTimeout):
		p.count(CounterExchangeTimeouts, 1)
		p.obs.Event(EventNetworkError)
	case errors.Is(err, ErrSequenceMismatch):
		p.count(CounterSequenceMismatch, 1)
	case errors.Is(err, ErrNoMaster):
		p.count(CounterForeignMessages, 1)
	case errors.Is(err, ErrReplay):
		p.count(CounterReplays, 1)
	case errors.Is(err, ErrDecode):
		p.count(CounterDecodeErrors, 1)
	}
	p.obs.Error(ErrorEvent{Err: err, MessageType: mt, SequenceID: seq})
}

func (p *Port) header(mt ptp.MessageType, seq uint16, control uint8, interval ptp.LogInterval, flags uint16) ptp.Header {
	return ptp.Header{
		SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(mt, p.cfg.Profile.TransportSpecific),
		Version:            ptp.Version,
		DomainNumber:       p.cfg.Profile.DomainNumber,
		FlagField:          flags,
		SourcePortIdentity: p.cfg.Identity,
		SequenceID:         seq,
		ControlField:       control,
		LogMessageInterval: interval,
	}
}

func (p *Port) send(pkt ptp.Packet, event bool) error {
	if _, err := p.net.Send(pkt, event); err != nil {
		return fmt.Errorf("sending %s %d: %w: %w", pkt.MessageType(), pkt.PacketHeader().SequenceID, ErrNetwork, err)
	}
	p.netErrors = 0
	p.count(TxCounter(pkt.MessageType()), 1)
	return nil
}

func (p *Port) apply(c servo.Correction) error {
	if err := p.clk.Apply(c); err != nil {
		return fmt.Errorf("applying %s: %w: %w", c, ErrHardwareClock, err)
	}
	p.freq = c.FrequencyPPB
	if c.HasStep {
		p.count(CounterClockSteps, 1)
	}
	if p.stats != nil {
		p.stats.AddSample(SampleFrequency, c.FrequencyPPB)
	}
	return nil
}

func (p *Port) recordOffset(offset time.Duration) {
	p.offset = offset
	if p.stats != nil {
		p.stats.AddSample(SampleOffset, float64(offset.Nanoseconds()))
	}
}

func (p *Port) recordPathDelay(mpd time.Duration) {
	p.pathDelay = mpd
	if p.stats != nil {
		p.stats.AddSample(SamplePathDelay, float64(mpd.Nanoseconds()))
	}
}

func (p *Port) count(key string, n int64) {
	p.counters[key] += n
	if p.stats != nil {
		p.stats.UpdateCounterBy(key, n)
	}
}

func (p *Port) setCounter(key string, v int64) {
	p.counters[key] = v
	if p.stats != nil {
		p.stats.SetCounter(key, v)
	}
}

// advance moves a periodic deadline past now without bursting missed periods
func advance(next time.Time, interval time.Duration, now time.Time) time.Time {
	next = next.Add(interval)
	if !next.After(now) {
		next = now.Add(interval)
	}
	return next
}
