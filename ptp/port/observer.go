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
	"github.com/flexptp/ptpengine/servo"
)

// EventCode is a fine grained notification of protocol activity
type EventCode uint8

// Event codes
const (
	EventInitDone EventCode = iota + 1
	EventResetDone
	EventSyncReceived
	EventSyncSent
	EventFollowUpReceived
	EventFollowUpSent
	EventDelayReqReceived
	EventDelayReqSent
	EventDelayRespReceived
	EventDelayRespSent
	EventPDelayReqReceived
	EventPDelayReqSent
	EventPDelayRespReceived
	EventPDelayRespSent
	EventPDelayRespFollowUpReceived
	EventPDelayRespFollowUpSent
	EventAnnounceSent
	EventAnnounceReceived
	EventLocked
	EventUnlocked
	EventStateChanged
	EventNetworkError
)

var eventCodeToString = map[EventCode]string{
	EventInitDone:                   "INIT_DONE",
	EventResetDone:                  "RESET_DONE",
	EventSyncReceived:               "SYNC_RECEIVED",
	EventSyncSent:                   "SYNC_SENT",
	EventFollowUpReceived:           "FOLLOW_UP_RECEIVED",
	EventFollowUpSent:               "FOLLOW_UP_SENT",
	EventDelayReqReceived:           "DELAY_REQ_RECEIVED",
	EventDelayReqSent:               "DELAY_REQ_SENT",
	EventDelayRespReceived:          "DELAY_RESP_RECEIVED",
	EventDelayRespSent:              "DELAY_RESP_SENT",
	EventPDelayReqReceived:          "PDELAY_REQ_RECEIVED",
	EventPDelayReqSent:              "PDELAY_REQ_SENT",
	EventPDelayRespReceived:         "PDELAY_RESP_RECEIVED",
	EventPDelayRespSent:             "PDELAY_RESP_SENT",
	EventPDelayRespFollowUpReceived: "PDELAY_RESP_FOLLOW_UP_RECEIVED",
	EventPDelayRespFollowUpSent:     "PDELAY_RESP_FOLLOW_UP_SENT",
	EventAnnounceSent:               "ANNOUNCE_SENT",
	EventAnnounceReceived:           "ANNOUNCE_RECEIVED",
	EventLocked:                     "LOCKED",
	EventUnlocked:                   "UNLOCKED",
	EventStateChanged:               "STATE_CHANGED",
	EventNetworkError:               "NETWORK_ERROR",
}

func (e EventCode) String() string {
	if s, ok := eventCodeToString[e]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
}

// Exchange is the outcome of one completed offset measurement
type Exchange struct {
	Master     ptp.PortIdentity
	SequenceID uint16
	// T1 and T2 are the master send and local receive times of the Sync
	T1, T2     time.Time
	Offset     time.Duration
	PathDelay  time.Duration
	Correction servo.Correction
	// Servo is false when the sample only primed the loop or went to coarse compensation
	Servo bool
}

// ErrorEvent describes a transient or fatal port error
type ErrorEvent struct {
	Err         error
	MessageType ptp.MessageType
	SequenceID  uint16
	Fatal       bool
}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("%s seq=%d: %v", e.MessageType, e.SequenceID, e.Err)
}

// Observer gets notified about everything noteworthy happening on the port.
// Calls are made synchronously from the goroutine driving the port.
type Observer interface {
	RoleChanged(from, to ptp.PortState)
	LockChanged(locked bool)
	ExchangeCompleted(ex Exchange)
	Error(ev ErrorEvent)
	Event(code EventCode)
}

// NopObserver ignores all notifications
type NopObserver struct{}

// RoleChanged implements Observer
func (NopObserver) RoleChanged(_, _ ptp.PortState) {}

// LockChanged implements Observer
func (NopObserver) LockChanged(_ bool) {}

// ExchangeCompleted implements Observer
func (NopObserver) ExchangeCompleted(_ Exchange) {}

// Error implements Observer
func (NopObserver) Error(_ ErrorEvent) {}

// Event implements Observer
func (NopObserver) Event(_ EventCode) {}

// LogObserver writes notifications to the log
type LogObserver struct{}

// RoleChanged implements Observer
func (LogObserver) RoleChanged(from, to ptp.PortState) {
	log.Infof("role changed %s -> %s", from, to)
}

// LockChanged implements Observer
func (LogObserver) LockChanged(locked bool) {
	if locked {
		log.Info("clock locked to master")
		return
	}
	log.Warning("clock unlocked")
}

// ExchangeCompleted implements Observer
func (LogObserver) ExchangeCompleted(ex Exchange) {
	if !ex.Servo {
		log.Debugf("offset %10d path delay %10d (servo idle)", ex.Offset.Nanoseconds(), ex.PathDelay.Nanoseconds())
		return
	}
	log.Infof("offset %10d servo %s freq %+7.0f path delay %10d",
		ex.Offset.Nanoseconds(), ex.Correction.State, ex.Correction.FrequencyPPB, ex.PathDelay.Nanoseconds())
}

// Error implements Observer
func (LogObserver) Error(ev ErrorEvent) {
	if ev.Fatal {
		log.Errorf("port fault: %v", ev.Err)
		return
	}
	log.Warningf("%s", ev)
}

// Event implements Observer
func (LogObserver) Event(code EventCode) {
	log.Debugf("event %s", code)
}
