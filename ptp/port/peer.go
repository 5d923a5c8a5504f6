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

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// Compliance tells how much we trust the P2P peer
type Compliance uint8

// Compliance states
const (
	ComplianceNone Compliance = iota
	ComplianceCandidate
	ComplianceEstablished
)

func (c Compliance) String() string {
	switch c {
	case ComplianceNone:
		return "NONE"
	case ComplianceCandidate:
		return "CANDIDATE"
	case ComplianceEstablished:
		return "ESTABLISHED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

// peer qualification
const (
	// PeerQualification is how many reports a candidate needs to exceed to become established
	PeerQualification = 3
	// PeerDropout is how many request periods a peer may stay silent
	PeerDropout = 3
)

// PeerInfo is what we know about the P2P peer
type PeerInfo struct {
	Identity      ptp.PortIdentity
	MeanPathDelay time.Duration
	Valid         bool
	Compliance    Compliance
	Reports       int
	Dropout       int
}

type pdelayExchange struct {
	t1, t2, t3, t4     time.Time
	cfResp, cfFollowUp time.Duration
	responder          ptp.PortIdentity
	haveT1             bool
	haveResp           bool
	haveFollowUp       bool
	twoStep            bool
}

type pdelayAnswer struct {
	requester  ptp.PortIdentity
	correction ptp.Correction
}

// peer measures the link delay to the neighbour and answers its requests
type peer struct {
	p    *Port
	info PeerInfo

	seq     uint16
	nextReq time.Time
	// our PDelay_Req in flight
	requests *arena[pdelayExchange]
	// two-step PDelay_Resp waiting for the transmit timestamp
	answers *arena[pdelayAnswer]
}

func newPeer(p *Port) *peer {
	return &peer{
		p:        p,
		requests: newArena[pdelayExchange](p.cfg.CorrelationWindow),
		answers:  newArena[pdelayAnswer](p.cfg.CorrelationWindow),
	}
}

func (pr *peer) start(now time.Time) {
	pr.reset()
	pr.nextReq = now
}

func (pr *peer) reset() {
	pr.info = PeerInfo{}
	pr.nextReq = time.Time{}
	pr.requests.clear()
	pr.answers.clear()
}

func (pr *peer) nextDeadline() time.Time {
	return earliest(earliest(pr.nextReq, pr.requests.nextDeadline()), pr.answers.nextDeadline())
}

func (pr *peer) interval() time.Duration {
	return pr.p.cfg.delayReqInterval()
}

func (pr *peer) tick(now time.Time) {
	pr.requests.expire(now, func(seq uint16, _ pdelayExchange) {
		pr.p.fail(fmt.Errorf("no response to PDelay_Req %d: %w", seq, ErrExchangeTimeout), ptp.MessagePDelayReq, seq, now)
	})
	pr.answers.expire(now, func(seq uint16, _ pdelayAnswer) {
		pr.p.fail(fmt.Errorf("no transmit timestamp for PDelay_Resp %d: %w", seq, ErrExchangeTimeout), ptp.MessagePDelayResp, seq, now)
	})
	if pr.nextReq.IsZero() || now.Before(pr.nextReq) || !pr.p.active() {
		return
	}
	pr.nextReq = advance(pr.nextReq, pr.interval(), now)
	if pr.info.Compliance != ComplianceNone {
		pr.info.Dropout--
		if pr.info.Dropout <= 0 {
			log.Warningf("peer %s went silent", pr.info.Identity)
			pr.info = PeerInfo{}
		}
	}
	if err := pr.sendRequest(now); err != nil {
		pr.p.fail(err, ptp.MessagePDelayReq, pr.seq-1, now)
	}
}

func (pr *peer) sendRequest(now time.Time) error {
	seq := pr.seq
	pr.seq++
	req := &ptp.PDelayReq{
		Header: pr.p.header(ptp.MessagePDelayReq, seq, ptp.ControlOther, pr.p.cfg.Profile.LogDelayReqInterval, 0),
	}
	pr.requests.put(seq, now.Add(pr.interval()), pdelayExchange{})
	if err := pr.p.send(req, true); err != nil {
		pr.requests.take(seq)
		return err
	}
	pr.p.obs.Event(EventPDelayReqSent)
	return nil
}

// requestSent records t1
func (pr *peer) requestSent(seq uint16, ts time.Time) error {
	ex, ok := pr.requests.get(seq)
	if !ok {
		return nil
	}
	ex.t1, ex.haveT1 = ts, true
	return pr.complete(seq)
}

func (pr *peer) handleResponse(resp *ptp.PDelayResp, rx time.Time, now time.Time) error {
	// answer to somebody else's request on a shared segment
	if resp.RequestingPortIdentity != pr.p.cfg.Identity {
		return nil
	}
	ex, ok := pr.requests.get(resp.SequenceID)
	if !ok {
		return fmt.Errorf("PDelay_Resp %d matches no outstanding request: %w", resp.SequenceID, ErrSequenceMismatch)
	}
	pr.p.obs.Event(EventPDelayRespReceived)
	ex.t4 = rx
	ex.cfResp = resp.CorrectionField.Duration()
	ex.responder = resp.SourcePortIdentity
	ex.haveResp = true
	ex.twoStep = resp.TwoStep()
	if ex.twoStep {
		ex.t2 = resp.RequestReceiptTimestamp.Time()
	} else {
		// turnaround time is in the correction field
		ex.t2, ex.t3 = time.Time{}, time.Time{}
	}
	return pr.complete(resp.SequenceID)
}

func (pr *peer) handleResponseFollowUp(fu *ptp.PDelayRespFollowUp, now time.Time) error {
	if fu.RequestingPortIdentity != pr.p.cfg.Identity {
		return nil
	}
	ex, ok := pr.requests.get(fu.SequenceID)
	if !ok || !ex.haveResp || !ex.twoStep || ex.responder != fu.SourcePortIdentity {
		return fmt.Errorf("PDelay_Resp_Follow_Up %d from %s matches no response: %w", fu.SequenceID, fu.SourcePortIdentity, ErrSequenceMismatch)
	}
	pr.p.obs.Event(EventPDelayRespFollowUpReceived)
	ex.t3 = fu.ResponseOriginTimestamp.Time()
	ex.cfFollowUp = fu.CorrectionField.Duration()
	ex.haveFollowUp = true
	return pr.complete(fu.SequenceID)
}

// complete computes the mean path delay once all four timestamps are there
func (pr *peer) complete(seq uint16) error {
	ex, ok := pr.requests.get(seq)
	if !ok || !ex.haveT1 || !ex.haveResp || (ex.twoStep && !ex.haveFollowUp) {
		return nil
	}
	done, _ := pr.requests.take(seq)
	mpd := ((done.t4.Sub(done.t1) - done.t3.Sub(done.t2)) - done.cfResp - done.cfFollowUp) / 2
	pr.report(done.responder, mpd)
	return nil
}

func (pr *peer) report(responder ptp.PortIdentity, mpd time.Duration) {
	if pr.info.Compliance != ComplianceNone && pr.info.Identity != responder {
		log.Warningf("peer changed from %s to %s", pr.info.Identity, responder)
		pr.info = PeerInfo{}
	}
	pr.info.Identity = responder
	pr.info.MeanPathDelay = mpd
	pr.info.Valid = true
	pr.info.Reports++
	pr.info.Dropout = PeerDropout
	switch pr.info.Compliance {
	case ComplianceNone:
		pr.info.Compliance = ComplianceCandidate
	case ComplianceCandidate:
		if pr.info.Reports > PeerQualification {
			pr.info.Compliance = ComplianceEstablished
			log.Infof("peer %s is compliant, path delay %v", responder, mpd)
		}
	}
	log.Debugf("peer %s path delay %v (%s)", responder, mpd, pr.info.Compliance)
	pr.p.recordPathDelay(mpd)
}

// handleRequest answers a PDelay_Req regardless of our role
func (pr *peer) handleRequest(req *ptp.PDelayReq, rx time.Time, now time.Time) error {
	pr.p.obs.Event(EventPDelayReqReceived)
	cfg := pr.p.cfg
	resp := &ptp.PDelayResp{
		Header: pr.p.header(ptp.MessagePDelayResp, req.SequenceID, ptp.ControlOther, ptp.LogIntervalSyncMatched, 0),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestingPortIdentity: req.SourcePortIdentity,
		},
	}
	if cfg.TwoStep {
		resp.FlagField |= ptp.FlagTwoStep
		resp.RequestReceiptTimestamp = ptp.NewTimestamp(rx)
		pr.answers.put(req.SequenceID, now.Add(cfg.TxTimestampTimeout), pdelayAnswer{
			requester:  req.SourcePortIdentity,
			correction: req.CorrectionField,
		})
	} else {
		ts, err := pr.p.clk.Now()
		if err != nil {
			return fmt.Errorf("reading clock for PDelay_Resp %d: %w: %w", req.SequenceID, ErrHardwareClock, err)
		}
		resp.CorrectionField = req.CorrectionField + ptp.NewCorrection(ts.Sub(rx))
	}
	if err := pr.p.send(resp, true); err != nil {
		pr.answers.take(req.SequenceID)
		return err
	}
	pr.p.obs.Event(EventPDelayRespSent)
	return nil
}

// responseSent sends the PDelay_Resp_Follow_Up carrying t3
func (pr *peer) responseSent(seq uint16, ts time.Time) error {
	a, ok := pr.answers.take(seq)
	if !ok {
		return nil
	}
	fu := &ptp.PDelayRespFollowUp{
		Header: pr.p.header(ptp.MessagePDelayRespFollowUp, seq, ptp.ControlOther, ptp.LogIntervalSyncMatched, 0),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: ptp.NewTimestamp(ts),
			RequestingPortIdentity:  a.requester,
		},
	}
	fu.CorrectionField = a.correction
	if err := pr.p.send(fu, false); err != nil {
		return err
	}
	pr.p.obs.Event(EventPDelayRespFollowUpSent)
	return nil
}
