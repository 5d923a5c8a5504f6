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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/flexptp/ptpengine/ptp/profile"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
	"github.com/flexptp/ptpengine/servo"
)

type syncState uint8

const (
	syncIdle syncState = iota
	syncWaitFollowUp
)

type coarsePhase uint8

const (
	coarseIdle coarsePhase = iota
	coarseSkew
	coarseTime
	coarsePropagation
)

// coarse compensation sequence
const (
	coarseSkewCycles        = 4
	coarseTimeCycles        = 1
	coarsePropagationCycles = 2
)

// maxReplays is how many stale Syncs in a row are rejected before resynchronizing
const maxReplays = 4

// maxTimeError is the t2 - t1 difference above which the clock is stepped straight away
const maxTimeError = time.Second

type syncCycle struct {
	seq        uint16
	t1, t2     time.Time
	cfSync     time.Duration
	cfFollowUp time.Duration
}

type delayExchange struct {
	t3, t4   time.Time
	cfResp   time.Duration
	haveT3   bool
	haveResp bool
}

// slave receives Sync/Follow_Up, measures the E2E path delay and runs the servo
type slave struct {
	p *Port

	state      syncState
	cur        syncCycle
	fuDeadline time.Time
	lastSeq    uint16
	haveSeq    bool
	replays    int

	// last complete cycle and the one before it
	cycle     syncCycle
	haveCycle bool
	prev      syncCycle
	havePrev  bool

	delayReqSeq  uint16
	nextDelayReq time.Time
	delayReqs    *arena[delayExchange]
	window       *slidingWindow
	pathDelay    time.Duration
	hasDelay     bool

	coarse      coarsePhase
	coarseCount int
}

func newSlave(p *Port) *slave {
	s := &slave{
		p:         p,
		delayReqs: newArena[delayExchange](p.cfg.CorrelationWindow),
	}
	if p.cfg.PathDelayFilterLength > 0 {
		s.window = newSlidingWindow(p.cfg.PathDelayFilterLength)
	}
	return s
}

func (s *slave) reset() {
	s.state = syncIdle
	s.cur = syncCycle{}
	s.fuDeadline = time.Time{}
	s.haveSeq, s.replays = false, 0
	s.haveCycle, s.havePrev = false, false
	s.nextDelayReq = time.Time{}
	s.delayReqs.clear()
	if s.window != nil {
		s.window.reset()
	}
	s.pathDelay, s.hasDelay = 0, false
	s.coarse, s.coarseCount = coarseIdle, 0
}

func (s *slave) e2e() bool {
	return s.p.cfg.Profile.DelayMechanism == profile.E2E
}

func (s *slave) syncMatched() bool {
	return s.e2e() && s.p.cfg.Profile.SyncMatched()
}

func (s *slave) nextDeadline() time.Time {
	next := earliest(s.nextDelayReq, s.delayReqs.nextDeadline())
	if s.state == syncWaitFollowUp {
		next = earliest(next, s.fuDeadline)
	}
	return next
}

func (s *slave) fromParent(src ptp.PortIdentity) error {
	parent := s.p.bmc.Parent()
	if parent == nil || parent.Sender != src {
		return fmt.Errorf("%s: %w", src, ErrNoMaster)
	}
	return nil
}

// syncInterval prefers the interval the master advertises
func (s *slave) syncInterval(li ptp.LogInterval) time.Duration {
	if li < -7 || li > 6 {
		return s.p.cfg.syncInterval()
	}
	return li.Duration()
}

func (s *slave) tick(now time.Time) {
	if s.state == syncWaitFollowUp && !now.Before(s.fuDeadline) {
		s.state = syncIdle
		s.p.fail(fmt.Errorf("no Follow_Up for Sync %d: %w", s.cur.seq, ErrExchangeTimeout), ptp.MessageFollowUp, s.cur.seq, now)
	}
	s.delayReqs.expire(now, func(seq uint16, _ delayExchange) {
		s.p.fail(fmt.Errorf("no Delay_Resp for Delay_Req %d: %w", seq, ErrExchangeTimeout), ptp.MessageDelayReq, seq, now)
	})
	if s.nextDelayReq.IsZero() || now.Before(s.nextDelayReq) {
		return
	}
	s.nextDelayReq = advance(s.nextDelayReq, s.p.cfg.delayReqInterval(), now)
	if err := s.sendDelayReq(now); err != nil {
		s.p.fail(err, ptp.MessageDelayReq, s.delayReqSeq-1, now)
	}
}

func (s *slave) handleSync(sync *ptp.SyncDelayReq, rx, now time.Time) error {
	if err := s.fromParent(sync.SourcePortIdentity); err != nil {
		return err
	}
	if s.haveSeq {
		if err := s.checkSequence(sync.SequenceID); err != nil {
			return err
		}
	}
	s.replays = 0
	s.p.obs.Event(EventSyncReceived)
	if s.state == syncWaitFollowUp {
		s.p.fail(fmt.Errorf("no Follow_Up for Sync %d: %w", s.cur.seq, ErrExchangeTimeout), ptp.MessageFollowUp, s.cur.seq, now)
	}
	s.lastSeq, s.haveSeq = sync.SequenceID, true
	s.cur = syncCycle{
		seq:    sync.SequenceID,
		t2:     rx,
		cfSync: sync.CorrectionField.Duration(),
	}
	if s.e2e() && !s.syncMatched() && s.nextDelayReq.IsZero() {
		s.nextDelayReq = now
	}
	if sync.TwoStep() {
		s.state = syncWaitFollowUp
		s.fuDeadline = now.Add(s.p.cfg.followUpTimeout(s.syncInterval(sync.LogMessageInterval)))
		return nil
	}
	s.state = syncIdle
	s.cur.t1 = sync.OriginTimestamp.Time()
	return s.commence(now)
}

// checkSequence rejects Syncs that are not ahead of the last one. A jump back
// beyond the correlation window, or maxReplays stale Syncs in a row, means
// the master restarted its sequence and we follow it.
func (s *slave) checkSequence(seq uint16) error {
	diff := int(int16(seq - s.lastSeq))
	if diff > 0 {
		return nil
	}
	if -diff < s.p.cfg.CorrelationWindow && s.replays < maxReplays {
		s.replays++
		return fmt.Errorf("Sync %d after %d: %w", seq, s.lastSeq, ErrReplay)
	}
	log.Warningf("Sync sequence restarted at %d after %d, resynchronizing", seq, s.lastSeq)
	s.p.count(CounterSequenceResyncs, 1)
	// the previous cycle belongs to the old master lifecycle
	s.havePrev = false
	return nil
}

func (s *slave) handleFollowUp(fu *ptp.FollowUp, now time.Time) error {
	if err := s.fromParent(fu.SourcePortIdentity); err != nil {
		return err
	}
	if s.state != syncWaitFollowUp {
		log.Debugf("unexpected Follow_Up %d", fu.SequenceID)
		return nil
	}
	if fu.SequenceID != s.cur.seq {
		return fmt.Errorf("Follow_Up %d while waiting for %d: %w", fu.SequenceID, s.cur.seq, ErrSequenceMismatch)
	}
	s.p.obs.Event(EventFollowUpReceived)
	s.state = syncIdle
	s.cur.t1 = fu.PreciseOriginTimestamp.Time()
	s.cur.cfFollowUp = fu.CorrectionField.Duration()
	return s.commence(now)
}

// commence starts processing of a complete Sync cycle
func (s *slave) commence(now time.Time) error {
	s.cycle, s.haveCycle = s.cur, true
	if s.syncMatched() {
		if err := s.sendDelayReq(now); err != nil {
			return err
		}
	}
	if d := s.cycle.t2.Sub(s.cycle.t1); d >= maxTimeError || d <= -maxTimeError {
		return s.stepClock(d)
	}
	// sync matched mode corrects once the Delay_Resp is in
	if s.syncMatched() {
		return nil
	}
	return s.correct(now)
}

func (s *slave) stepClock(d time.Duration) error {
	log.Warningf("time error %v is too big, stepping the clock", d)
	c := servo.Correction{FrequencyPPB: s.p.freq, Step: -d, HasStep: true, State: servo.StateJump}
	if err := s.p.apply(c); err != nil {
		return err
	}
	// everything measured so far is on the old timescale
	s.haveCycle, s.havePrev = false, false
	s.delayReqs.clear()
	s.coarse, s.coarseCount = coarseIdle, 0
	s.p.srv.Reset()
	return nil
}

func (s *slave) meanPathDelay() (time.Duration, bool) {
	if s.e2e() {
		return s.pathDelay, s.hasDelay
	}
	info := s.p.peer.info
	return info.MeanPathDelay, info.Valid
}

// correct computes the offset of the last cycle and feeds it to the servo
func (s *slave) correct(now time.Time) error {
	c := s.cycle
	mpd, ok := s.meanPathDelay()
	if !ok {
		log.Debugf("no path delay yet, Sync %d not used", c.seq)
		return nil
	}
	offset := c.t2.Sub(c.t1) - mpd - c.cfSync - c.cfFollowUp - s.p.cfg.StaticOffset
	s.p.recordOffset(offset)
	ex := Exchange{
		SequenceID: c.seq,
		T1:         c.t1,
		T2:         c.t2,
		Offset:     offset,
		PathDelay:  mpd,
	}
	if parent := s.p.bmc.Parent(); parent != nil {
		ex.Master = parent.Sender
	}
	prev, havePrev := s.prev, s.havePrev
	s.prev, s.havePrev = c, true

	// the servo needs a measured sync period, which takes two cycles
	if !havePrev {
		s.p.obs.ExchangeCompleted(ex)
		return nil
	}
	period := c.t1.Sub(prev.t1)
	if period <= 0 {
		log.Warningf("Sync %d origin time went backwards by %v", c.seq, -period)
		s.p.obs.ExchangeCompleted(ex)
		return nil
	}
	if s.coarse != coarseIdle || offset > s.p.cfg.CoarseThreshold || offset < -s.p.cfg.CoarseThreshold {
		err := s.coarseCycle(c, prev, offset, period)
		if err == nil {
			s.p.obs.ExchangeCompleted(ex)
		}
		return err
	}

	corr := s.p.srv.Update(offset, mpd, period)
	if err := s.p.apply(corr); err != nil {
		return err
	}
	ex.Correction, ex.Servo = corr, true
	s.p.obs.ExchangeCompleted(ex)
	s.p.updateLock(offset, period)
	if s.p.State() == ptp.PortStateUncalibrated && s.p.srv.Locked() {
		s.p.bmc.Calibrated(now)
	}
	return nil
}

// coarseCycle runs one step of the sequence that brings a far off clock close
// enough for the servo: skew correction, time correction, then waiting for the
// step to show up in the measurements.
func (s *slave) coarseCycle(c, prev syncCycle, offset, period time.Duration) error {
	if s.coarse == coarseIdle {
		log.Warningf("time error %v exceeds coarse threshold %v, compensation commenced", offset, s.p.cfg.CoarseThreshold)
		s.p.count(CounterCoarse, 1)
		s.p.srv.Reset()
		s.coarse, s.coarseCount = coarseSkew, 0
	}
	switch s.coarse {
	case coarseSkew:
		elapsed := c.t2.Sub(prev.t2)
		skew := float64(elapsed-period) / float64(period)
		log.Infof("[%d/%d] skew compensation %+.4f ppb", s.coarseCount+1, coarseSkewCycles, -skew*1e9)
		if err := s.p.apply(servo.Correction{FrequencyPPB: s.p.freq - skew*1e9, State: servo.StateInit}); err != nil {
			return err
		}
		s.nextCoarse(coarseSkewCycles, coarseTime)
	case coarseTime:
		log.Infof("[%d/%d] time compensation %v", s.coarseCount+1, coarseTimeCycles, -offset)
		if err := s.p.apply(servo.Correction{FrequencyPPB: s.p.freq, Step: -offset, HasStep: true, State: servo.StateJump}); err != nil {
			return err
		}
		s.nextCoarse(coarseTimeCycles, coarsePropagation)
	case coarsePropagation:
		log.Infof("[%d/%d] waiting for time compensation to propagate", s.coarseCount+1, coarsePropagationCycles)
		if s.nextCoarse(coarsePropagationCycles, coarseIdle) {
			s.p.srv.SetFrequency(s.p.freq)
			log.Infof("coarse compensation done, freq %+.3f ppb", s.p.freq)
		}
	}
	return nil
}

// nextCoarse counts a cycle of the current phase and reports whether the sequence finished
func (s *slave) nextCoarse(cycles int, next coarsePhase) bool {
	s.coarseCount++
	if s.coarseCount < cycles {
		return false
	}
	s.coarse, s.coarseCount = next, 0
	return next == coarseIdle
}

func (s *slave) sendDelayReq(now time.Time) error {
	seq := s.delayReqSeq
	s.delayReqSeq++
	req := &ptp.SyncDelayReq{
		Header: s.p.header(ptp.MessageDelayReq, seq, ptp.ControlDelayReq, ptp.LogIntervalSyncMatched, 0),
	}
	timeout := max(DefaultFollowUpSyncPeriods*s.p.cfg.delayReqInterval(), s.p.cfg.TxTimestampTimeout)
	s.delayReqs.put(seq, now.Add(timeout), delayExchange{})
	if err := s.p.send(req, true); err != nil {
		s.delayReqs.take(seq)
		return err
	}
	s.p.obs.Event(EventDelayReqSent)
	return nil
}

// txTimestamp records t3 of our Delay_Req
func (s *slave) txTimestamp(seq uint16, ts, now time.Time) error {
	ex, ok := s.delayReqs.get(seq)
	if !ok {
		return nil
	}
	ex.t3, ex.haveT3 = ts, true
	return s.completeDelay(seq, now)
}

func (s *slave) handleDelayResp(resp *ptp.DelayResp, now time.Time) error {
	// response to another slave
	if resp.RequestingPortIdentity != s.p.cfg.Identity {
		return nil
	}
	if err := s.fromParent(resp.SourcePortIdentity); err != nil {
		return err
	}
	ex, ok := s.delayReqs.get(resp.SequenceID)
	if !ok {
		return fmt.Errorf("Delay_Resp %d matches no outstanding Delay_Req: %w", resp.SequenceID, ErrSequenceMismatch)
	}
	s.p.obs.Event(EventDelayRespReceived)
	ex.t4 = resp.ReceiveTimestamp.Time()
	ex.cfResp = resp.CorrectionField.Duration()
	ex.haveResp = true
	return s.completeDelay(resp.SequenceID, now)
}

func (s *slave) completeDelay(seq uint16, now time.Time) error {
	ex, ok := s.delayReqs.get(seq)
	if !ok || !ex.haveT3 || !ex.haveResp {
		return nil
	}
	done, _ := s.delayReqs.take(seq)
	if !s.haveCycle {
		log.Debugf("Delay_Resp %d without a Sync cycle to pair with", seq)
		return nil
	}
	c := s.cycle
	mpd := (c.t2.Sub(c.t1) + done.t4.Sub(done.t3) - c.cfSync - c.cfFollowUp - done.cfResp) / 2
	if s.window != nil {
		s.window.add(mpd)
		mpd = s.window.median()
	}
	s.pathDelay, s.hasDelay = mpd, true
	s.p.recordPathDelay(mpd)
	log.Debugf("mean path delay %v", mpd)
	if s.syncMatched() {
		return s.correct(now)
	}
	return nil
}
