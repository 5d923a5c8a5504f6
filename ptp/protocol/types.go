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

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"
)

// 2 ** 16
const twoPow16 = 65536

// MessageType is type for Message Types
type MessageType uint8

// As per Table 36 Values of messageType field
const (
	MessageSync               MessageType = 0x0
	MessageDelayReq           MessageType = 0x1
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessageDelayResp          MessageType = 0x9
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
	MessageSignaling          MessageType = 0xC
	MessageManagement         MessageType = 0xD
)

var messageTypeToString = map[MessageType]string{
	MessageSync:               "SYNC",
	MessageDelayReq:           "DELAY_REQ",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RESP",
	MessageFollowUp:           "FOLLOW_UP",
	MessageDelayResp:          "DELAY_RESP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
	MessageSignaling:          "SIGNALING",
	MessageManagement:         "MANAGEMENT",
}

func (m MessageType) String() string {
	if s, ok := messageTypeToString[m]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
}

// Event reports whether messages of this type need hardware timestamps.
// Sync, Delay_Req and both PDelay requests/responses are event messages, everything else is general.
func (m MessageType) Event() bool {
	return m <= MessagePDelayResp
}

// SdoIDAndMsgType is a uint8 where first 4 bits contain majorSdoId (transportSpecific) and last 4 bits MessageType
type SdoIDAndMsgType uint8

// MsgType extracts MessageType from SdoIDAndMsgType
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0xf)
}

// SdoID extracts majorSdoId, known as transportSpecific in 1588-2008 and 802.1AS
func (m SdoIDAndMsgType) SdoID() uint8 {
	return uint8(m) >> 4
}

// NewSdoIDAndMsgType builds new SdoIDAndMsgType from MessageType and majorSdoId
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType)&0xf)
}

// ProbeMsgType reads the first byte of data and returns the MessageType it carries
func ProbeMsgType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe MsgType")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

// TLVType is type for TLV types
type TLVType uint16

// As per Table 52 tlvType values
const (
	TLVManagement            TLVType = 0x0001
	TLVManagementErrorStatus TLVType = 0x0002
	TLVOrganizationExtension TLVType = 0x0003
	TLVPathTrace             TLVType = 0x0008
)

var tlvTypeToString = map[TLVType]string{
	TLVManagement:            "MANAGEMENT",
	TLVManagementErrorStatus: "MANAGEMENT_ERROR_STATUS",
	TLVOrganizationExtension: "ORGANIZATION_EXTENSION",
	TLVPathTrace:             "PATH_TRACE",
}

func (t TLVType) String() string {
	if s, ok := tlvTypeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("TLV(0x%04x)", uint16(t))
}

/*
Correction is the value of the correctionField: nanoseconds multiplied by 2**16.
For example, 2.5 ns is expressed as 0000 0000 0002 8000 base 16.
*/
type Correction int64

// Nanoseconds decodes Correction to nanoseconds
func (t Correction) Nanoseconds() float64 {
	return float64(t) / twoPow16
}

// Duration converts Correction to time.Duration, dropping sub-nanosecond part
func (t Correction) Duration() time.Duration {
	return time.Duration(int64(t) >> 16)
}

func (t Correction) String() string {
	return fmt.Sprintf("Correction(%.3fns)", t.Nanoseconds())
}

// NewCorrection builds Correction from time.Duration
func NewCorrection(d time.Duration) Correction {
	if d > math.MaxInt64>>16 {
		return Correction(math.MaxInt64)
	}
	if d < math.MinInt64>>16 {
		return Correction(math.MinInt64)
	}
	return Correction(int64(d) << 16)
}

// ClockIdentity identifies unique entities within a PTP Network
type ClockIdentity uint64

// ClockIdentityAll is the all-ones identity used as a wildcard and as the "worst" candidate
const ClockIdentityAll ClockIdentity = 0xffffffffffffffff

// String formats ClockIdentity same way ptp4l pmc client does
func (c ClockIdentity) String() string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x", b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7])
}

// NewClockIdentity creates new ClockIdentity from EUI-48 or EUI-64 MAC address
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	b := [8]byte{}
	switch len(mac) {
	case 6:
		copy(b[:3], mac[:3])
		b[3] = 0xFF
		b[4] = 0xFE
		copy(b[5:], mac[3:])
	case 8:
		copy(b[:], mac)
	default:
		return 0, fmt.Errorf("unsupported MAC %v, must be either EUI48 or EUI64", mac)
	}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// PortIdentity identifies a PTP Port
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

// String formats PortIdentity same way ptp4l pmc client does
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// Compare returns -1, 0 or 1 ordering by clock identity first, then port number
func (p PortIdentity) Compare(q PortIdentity) int {
	switch {
	case p.ClockIdentity < q.ClockIdentity:
		return -1
	case p.ClockIdentity > q.ClockIdentity:
		return 1
	case p.PortNumber < q.PortNumber:
		return -1
	case p.PortNumber > q.PortNumber:
		return 1
	}
	return 0
}

// Less reports whether p sorts before q
func (p PortIdentity) Less(q PortIdentity) bool { return p.Compare(q) < 0 }

/*
Timestamp represents a positive time with respect to the epoch.
Seconds is a uint48, Nanoseconds is always less than 10**9.
*/
type Timestamp struct {
	Seconds     [6]uint8
	Nanoseconds uint32
}

// Empty reports whether both fields are zero
func (t Timestamp) Empty() bool {
	return t.Nanoseconds == 0 && t.Seconds == [6]uint8{}
}

func (t Timestamp) secs() uint64 {
	s := t.Seconds
	return uint64(s[5]) | uint64(s[4])<<8 | uint64(s[3])<<16 | uint64(s[2])<<24 | uint64(s[1])<<32 | uint64(s[0])<<40
}

// Time turns Timestamp into time.Time. Empty timestamp is the zero time.Time.
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.secs()), int64(t.Nanoseconds))
}

func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%d.%09d)", t.secs(), t.Nanoseconds)
}

// NewTimestamp creates Timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	ts := Timestamp{Nanoseconds: uint32(t.Nanosecond())}
	v := uint64(t.Unix())
	for i := 5; i >= 0; i-- {
		ts.Seconds[i] = byte(v)
		v >>= 8
	}
	return ts
}

// ClockClass represents a PTP clock class
type ClockClass uint8

// Clock classes used by the engine
const (
	ClockClass6         ClockClass = 6
	ClockClass7         ClockClass = 7
	ClockClass52        ClockClass = 52
	ClockClass187       ClockClass = 187
	ClockClassDefault   ClockClass = 248
	ClockClassSlaveOnly ClockClass = 255
)

// ClockAccuracy represents a PTP clock accuracy
type ClockAccuracy uint8

// Clock accuracy values, Table 5
const (
	ClockAccuracyNanosecond25   ClockAccuracy = 0x20
	ClockAccuracyNanosecond100  ClockAccuracy = 0x21
	ClockAccuracyNanosecond250  ClockAccuracy = 0x22
	ClockAccuracyMicrosecond1   ClockAccuracy = 0x23
	ClockAccuracyMicrosecond10  ClockAccuracy = 0x25
	ClockAccuracyMicrosecond100 ClockAccuracy = 0x27
	ClockAccuracyMillisecond1   ClockAccuracy = 0x29
	ClockAccuracyMillisecond10  ClockAccuracy = 0x2B
	ClockAccuracySecond1        ClockAccuracy = 0x2F
	ClockAccuracyUnknown        ClockAccuracy = 0xFE
)

// VarianceUnknown is the offsetScaledLogVariance value meaning "not computed"
const VarianceUnknown uint16 = 0xFFFF

// ClockQuality represents the quality of a clock
type ClockQuality struct {
	ClockClass              ClockClass    `json:"clock_class"`
	ClockAccuracy           ClockAccuracy `json:"clock_accuracy"`
	OffsetScaledLogVariance uint16        `json:"offset_scaled_log_variance"`
}

// TimeSource indicates the immediate source of time used by the Grandmaster
type TimeSource uint8

// TimeSource values, Table 6
const (
	TimeSourceAtomicClock        TimeSource = 0x10
	TimeSourceGNSS               TimeSource = 0x20
	TimeSourcePTP                TimeSource = 0x40
	TimeSourceNTP                TimeSource = 0x50
	TimeSourceHandSet            TimeSource = 0x60
	TimeSourceOther              TimeSource = 0x90
	TimeSourceInternalOscillator TimeSource = 0xA0
)

// LogInterval is the base 2 logarithm of a period in seconds
type LogInterval int8

// LogIntervalSyncMatched is a pseudo interval: issue one delay request per received Sync
const LogIntervalSyncMatched LogInterval = 127

// Duration returns LogInterval as time.Duration
func (i LogInterval) Duration() time.Duration {
	return time.Duration(math.Pow(2, float64(i)) * float64(time.Second))
}

// NewLogInterval returns LogInterval closest to d
func NewLogInterval(d time.Duration) (LogInterval, error) {
	if d <= 0 {
		return 0, fmt.Errorf("interval %v must be positive", d)
	}
	li := int(math.Round(math.Log2(d.Seconds())))
	if li > 126 || li < -128 {
		return 0, fmt.Errorf("logInterval %d is out of range", li)
	}
	return LogInterval(li), nil
}

// PortState is one of the states of the port state machine
type PortState uint8

// Table 20 PTP state enumeration
const (
	PortStateInitializing PortState = iota + 1
	PortStateFaulty
	PortStateDisabled
	PortStateListening
	PortStatePreMaster
	PortStateMaster
	PortStatePassive
	PortStateUncalibrated
	PortStateSlave
)

var portStateToString = map[PortState]string{
	PortStateInitializing: "INITIALIZING",
	PortStateFaulty:       "FAULTY",
	PortStateDisabled:     "DISABLED",
	PortStateListening:    "LISTENING",
	PortStatePreMaster:    "PRE_MASTER",
	PortStateMaster:       "MASTER",
	PortStatePassive:      "PASSIVE",
	PortStateUncalibrated: "UNCALIBRATED",
	PortStateSlave:        "SLAVE",
}

func (ps PortState) String() string {
	if s, ok := portStateToString[ps]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(ps))
}
