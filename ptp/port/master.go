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
)

// master sends Sync, Follow_Up and Announce and answers Delay_Req
type master struct {
	p *Port

	syncSeq      uint16
	announceSeq  uint16
	nextSync     time.Time
	nextAnnounce time.Time
	// two-step Syncs waiting for their transmit timestamp
	pending *arena[struct{}]
}

func newMaster(p *Port) *master {
	return &master{
		p:       p,
		pending: newArena[struct{}](p.cfg.CorrelationWindow),
	}
}

func (m *master) start(now time.Time) {
	m.reset()
	m.nextSync = now
	m.nextAnnounce = now
}

func (m *master) reset() {
	m.pending.clear()
	m.nextSync = time.Time{}
	m.nextAnnounce = time.Time{}
}

// issuing reports whether Sync and Announce may go out. With the compliant
// slave flag a P2P master stays quiet until its peer proved compliant.
func (m *master) issuing() bool {
	pr := &m.p.cfg.Profile
	return pr.DelayMechanism == profile.E2E ||
		!pr.Flags.Has(profile.FlagIssueSyncForCompliantSlaveOnly) ||
		m.p.peer.info.Compliance == ComplianceEstablished
}

func (m *master) nextDeadline() time.Time {
	return earliest(earliest(m.nextSync, m.nextAnnounce), m.pending.nextDeadline())
}

func (m *master) tick(now time.Time) {
	m.pending.expire(now, func(seq uint16, _ struct{}) {
		m.p.fail(fmt.Errorf("no transmit timestamp for Sync %d: %w", seq, ErrExchangeTimeout), ptp.MessageSync, seq, now)
	})
	if !m.nextAnnounce.IsZero() && !now.Before(m.nextAnnounce) {
		m.nextAnnounce = advance(m.nextAnnounce, m.p.cfg.Profile.LogAnnounceInterval.Duration(), now)
		if m.issuing() {
			if err := m.sendAnnounce(); err != nil {
				m.p.fail(err, ptp.MessageAnnounce, m.announceSeq-1, now)
			}
		}
	}
	if !m.p.active() {
		return
	}
	if !m.nextSync.IsZero() && !now.Before(m.nextSync) {
		m.nextSync = advance(m.nextSync, m.p.cfg.syncInterval(), now)
		if m.issuing() {
			if err := m.sendSync(now); err != nil {
				m.p.fail(err, ptp.MessageSync, m.syncSeq-1, now)
			}
		}
	}
}

func (m *master) sendSync(now time.Time) error {
	seq := m.syncSeq
	m.syncSeq++
	cfg := m.p.cfg
	sync := &ptp.SyncDelayReq{
		Header: m.p.header(ptp.MessageSync, seq, ptp.ControlSync, cfg.Profile.LogSyncInterval, 0),
	}
	if cfg.TwoStep {
		sync.FlagField |= ptp.FlagTwoStep
		if m.pending.put(seq, now.Add(cfg.TxTimestampTimeout), struct{}{}) {
			log.Debugf("Sync %d replaced an unfinished one", seq)
		}
	} else {
		ts, err := m.p.clk.Now()
		if err != nil {
			return fmt.Errorf("reading clock for Sync %d: %w: %w", seq, ErrHardwareClock, err)
		}
		sync.OriginTimestamp = ptp.NewTimestamp(ts)
	}
	if err := m.p.send(sync, true); err != nil {
		m.pending.take(seq)
		return err
	}
	m.p.obs.Event(EventSyncSent)
	return nil
}

// txTimestamp completes a two-step Sync with its Follow_Up
func (m *master) txTimestamp(seq uint16, ts time.Time) error {
	if _, ok := m.pending.take(seq); !ok {
		log.Debugf("transmit timestamp for unknown Sync %d", seq)
		return nil
	}
	cfg := m.p.cfg
	fu := &ptp.FollowUp{
		Header: m.p.header(ptp.MessageFollowUp, seq, ptp.ControlFollowUp, cfg.Profile.LogSyncInterval, 0),
		FollowUpBody: ptp.FollowUpBody{
			PreciseOriginTimestamp: ptp.NewTimestamp(ts),
		},
		TLVs: profile.TLVs(cfg.Profile.TLVSet, ptp.MessageFollowUp),
	}
	if err := m.p.send(fu, false); err != nil {
		return err
	}
	m.p.obs.Event(EventFollowUpSent)
	return nil
}

func (m *master) sendAnnounce() error {
	seq := m.announceSeq
	m.announceSeq++
	cfg := m.p.cfg
	local := m.p.bmc.Local()
	a := &ptp.Announce{
		Header: m.p.header(ptp.MessageAnnounce, seq, ptp.ControlOther, cfg.Profile.LogAnnounceInterval, ptp.FlagPTPTimescale|ptp.FlagCurrentUtcOffsetValid),
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:        local.CurrentUTCOffset,
			GrandmasterPriority1:    local.Priority1,
			GrandmasterClockQuality: local.ClockQuality,
			GrandmasterPriority2:    local.Priority2,
			GrandmasterIdentity:     local.GrandmasterIdentity,
			StepsRemoved:            0,
			TimeSource:              local.TimeSource,
		},
		TLVs: profile.TLVs(cfg.Profile.TLVSet, ptp.MessageAnnounce),
	}
	if err := m.p.send(a, false); err != nil {
		return err
	}
	m.p.obs.Event(EventAnnounceSent)
	return nil
}

// handleDelayReq answers with the receive timestamp of the request
func (m *master) handleDelayReq(req *ptp.SyncDelayReq, rx time.Time) error {
	m.p.obs.Event(EventDelayReqReceived)
	resp := &ptp.DelayResp{
		Header: m.p.header(ptp.MessageDelayResp, req.SequenceID, ptp.ControlDelayResp, m.p.cfg.Profile.LogDelayReqInterval, 0),
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       ptp.NewTimestamp(rx),
			RequestingPortIdentity: req.SourcePortIdentity,
		},
	}
	resp.CorrectionField = req.CorrectionField
	if err := m.p.send(resp, false); err != nil {
		return err
	}
	m.p.obs.Event(EventDelayRespSent)
	return nil
}
