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

// all references are given for IEEE 1588-2019 Standard

import (
	"encoding/binary"
	"fmt"
)

// Version is what version of PTP protocol we implement
const Version uint8 = 2

// UDP port numbers for event and general messages
const (
	PortEvent   = 319
	PortGeneral = 320
)

// MaxPacketSize is the largest message we ever build
const MaxPacketSize = 512

const (
	headerSize    = 34
	timestampSize = 10
	portIDSize    = 10
)

// Header Table 35 Common PTP message header
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType // first 4 bits is majorSdoId, next 4 bits are msgtype
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval
}

// MessageType returns MessageType
func (p *Header) MessageType() MessageType {
	return p.SdoIDAndMsgType.MsgType()
}

// SetSequence populates sequence field
func (p *Header) SetSequence(sequence uint16) {
	p.SequenceID = sequence
}

// PacketHeader gives access to the common header of any packet
func (p *Header) PacketHeader() *Header {
	return p
}

// TwoStep reports whether the two-step flag is set
func (p *Header) TwoStep() bool {
	return p.FlagField&FlagTwoStep != 0
}

// flags used in FlagField as per Table 37 Values of flagField
const (
	// first octet
	FlagAlternateMaster  uint16 = 1 << (8 + 0)
	FlagTwoStep          uint16 = 1 << (8 + 1)
	FlagUnicast          uint16 = 1 << (8 + 2)
	FlagProfileSpecific1 uint16 = 1 << (8 + 5)
	FlagProfileSpecific2 uint16 = 1 << (8 + 6)
	// second octet
	FlagLeap61                uint16 = 1 << 0
	FlagLeap59                uint16 = 1 << 1
	FlagCurrentUtcOffsetValid uint16 = 1 << 2
	FlagPTPTimescale          uint16 = 1 << 3
	FlagTimeTraceable         uint16 = 1 << 4
	FlagFrequencyTraceable    uint16 = 1 << 5
)

// controlField values, Table 42 (kept for 1588v1 hardware)
const (
	ControlSync      uint8 = 0
	ControlDelayReq  uint8 = 1
	ControlFollowUp  uint8 = 2
	ControlDelayResp uint8 = 3
	ControlOther     uint8 = 5
)

func headerMarshalBinaryTo(p *Header, b []byte) int {
	b[0] = byte(p.SdoIDAndMsgType)
	b[1] = p.Version
	binary.BigEndian.PutUint16(b[2:], p.MessageLength)
	b[4] = p.DomainNumber
	b[5] = p.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], p.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(p.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], p.MessageTypeSpecific)
	binary.BigEndian.PutUint64(b[20:], uint64(p.SourcePortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[28:], p.SourcePortIdentity.PortNumber)
	binary.BigEndian.PutUint16(b[30:], p.SequenceID)
	b[32] = p.ControlField
	b[33] = byte(p.LogMessageInterval)
	return headerSize
}

func unmarshalHeader(p *Header, b []byte) {
	p.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	p.Version = b[1]
	p.MessageLength = binary.BigEndian.Uint16(b[2:])
	p.DomainNumber = b[4]
	p.MinorSdoID = b[5]
	p.FlagField = binary.BigEndian.Uint16(b[6:])
	p.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	p.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	p.SourcePortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[20:]))
	p.SourcePortIdentity.PortNumber = binary.BigEndian.Uint16(b[28:])
	p.SequenceID = binary.BigEndian.Uint16(b[30:])
	p.ControlField = b[32]
	p.LogMessageInterval = LogInterval(b[33])
}

func checkPacketLength(p *Header, l int, want int) error {
	if int(p.MessageLength) < want {
		return fmt.Errorf("%s message length %d is less than required %d", p.MessageType(), p.MessageLength, want)
	}
	if int(p.MessageLength) > l {
		return fmt.Errorf("%s message length %d in header is longer than packet %d", p.MessageType(), p.MessageLength, l)
	}
	return nil
}

func putTimestamp(b []byte, t Timestamp) {
	copy(b[0:6], t.Seconds[:])
	binary.BigEndian.PutUint32(b[6:], t.Nanoseconds)
}

func readTimestamp(b []byte) Timestamp {
	t := Timestamp{}
	copy(t.Seconds[:], b[0:6])
	t.Nanoseconds = binary.BigEndian.Uint32(b[6:])
	return t
}

func putPortIdentity(b []byte, p PortIdentity) {
	binary.BigEndian.PutUint64(b, uint64(p.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], p.PortNumber)
}

func readPortIdentity(b []byte) PortIdentity {
	return PortIdentity{
		ClockIdentity: ClockIdentity(binary.BigEndian.Uint64(b)),
		PortNumber:    binary.BigEndian.Uint16(b[8:]),
	}
}

// AnnounceBody Table 43 Announce message fields
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

const announceSize = headerSize + 30

// Announce is a full Announce packet, with optional TLVs
type Announce struct {
	Header
	AnnounceBody
	TLVs []TLV
}

// MarshalBinaryTo marshals Announce into b
func (p *Announce) MarshalBinaryTo(b []byte) (int, error) {
	size := announceSize + tlvsLength(p.TLVs)
	if len(b) < size {
		return 0, fmt.Errorf("not enough space for Announce: %d < %d", len(b), size)
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.OriginTimestamp)
	binary.BigEndian.PutUint16(b[n+10:], uint16(p.CurrentUTCOffset))
	b[n+12] = p.Reserved
	b[n+13] = p.GrandmasterPriority1
	b[n+14] = byte(p.GrandmasterClockQuality.ClockClass)
	b[n+15] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[n+16:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[n+18] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[n+19:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[n+27:], p.StepsRemoved)
	b[n+29] = byte(p.TimeSource)
	tl, err := writeTLVs(p.TLVs, b[announceSize:])
	return announceSize + tl, err
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Announce) UnmarshalBinary(b []byte) error {
	if len(b) < announceSize {
		return fmt.Errorf("not enough data to decode Announce")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b), announceSize); err != nil {
		return err
	}
	n := headerSize
	p.OriginTimestamp = readTimestamp(b[n:])
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[n+10:]))
	p.Reserved = b[n+12]
	p.GrandmasterPriority1 = b[n+13]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[n+14])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[n+15])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[n+16:])
	p.GrandmasterPriority2 = b[n+18]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+19:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[n+27:])
	p.TimeSource = TimeSource(b[n+29])
	var err error
	p.TLVs, err = readTLVs(b[announceSize:p.MessageLength])
	return err
}

// SyncDelayReqBody Table 44 Sync and Delay_Req message fields
type SyncDelayReqBody struct {
	OriginTimestamp Timestamp
}

const syncSize = headerSize + timestampSize

// SyncDelayReq is a full Sync/Delay_Req packet
type SyncDelayReq struct {
	Header
	SyncDelayReqBody
}

// MarshalBinaryTo marshals SyncDelayReq into b
func (p *SyncDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < syncSize {
		return 0, fmt.Errorf("not enough space for %s: %d < %d", p.MessageType(), len(b), syncSize)
	}
	p.MessageLength = syncSize
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.OriginTimestamp)
	return syncSize, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *SyncDelayReq) UnmarshalBinary(b []byte) error {
	if len(b) < syncSize {
		return fmt.Errorf("not enough data to decode Sync/Delay_Req")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b), syncSize); err != nil {
		return err
	}
	p.OriginTimestamp = readTimestamp(b[headerSize:])
	return nil
}

// FollowUpBody Table 45 Follow_Up message fields
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a full Follow_Up packet, with optional TLVs (gPTP requires one)
type FollowUp struct {
	Header
	FollowUpBody
	TLVs []TLV
}

// MarshalBinaryTo marshals FollowUp into b
func (p *FollowUp) MarshalBinaryTo(b []byte) (int, error) {
	size := syncSize + tlvsLength(p.TLVs)
	if len(b) < size {
		return 0, fmt.Errorf("not enough space for Follow_Up: %d < %d", len(b), size)
	}
	p.MessageLength = uint16(size)
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.PreciseOriginTimestamp)
	tl, err := writeTLVs(p.TLVs, b[syncSize:])
	return syncSize + tl, err
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < syncSize {
		return fmt.Errorf("not enough data to decode Follow_Up")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b), syncSize); err != nil {
		return err
	}
	p.PreciseOriginTimestamp = readTimestamp(b[headerSize:])
	var err error
	p.TLVs, err = readTLVs(b[syncSize:p.MessageLength])
	return err
}

// DelayRespBody Table 46 Delay_Resp message fields
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

const respSize = headerSize + timestampSize + portIDSize

// DelayResp is a full Delay_Resp packet
type DelayResp struct {
	Header
	DelayRespBody
}

// MarshalBinaryTo marshals DelayResp into b
func (p *DelayResp) MarshalBinaryTo(b []byte) (int, error) {
	return marshalTimestampPortID(&p.Header, p.ReceiveTimestamp, p.RequestingPortIdentity, b)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *DelayResp) UnmarshalBinary(b []byte) error {
	return unmarshalTimestampPortID(&p.Header, &p.ReceiveTimestamp, &p.RequestingPortIdentity, b)
}

// PDelayReqBody Table 47 Pdelay_Req message fields
type PDelayReqBody struct {
	OriginTimestamp Timestamp
	Reserved        [10]uint8
}

// PDelayReq is a full Pdelay_Req packet
type PDelayReq struct {
	Header
	PDelayReqBody
}

// MarshalBinaryTo marshals PDelayReq into b
func (p *PDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < respSize {
		return 0, fmt.Errorf("not enough space for PDelay_Req: %d < %d", len(b), respSize)
	}
	p.MessageLength = respSize
	n := headerMarshalBinaryTo(&p.Header, b)
	putTimestamp(b[n:], p.OriginTimestamp)
	copy(b[n+timestampSize:], p.Reserved[:])
	return respSize, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayReq) UnmarshalBinary(b []byte) error {
	if len(b) < respSize {
		return fmt.Errorf("not enough data to decode PDelay_Req")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b), respSize); err != nil {
		return err
	}
	p.OriginTimestamp = readTimestamp(b[headerSize:])
	copy(p.Reserved[:], b[headerSize+timestampSize:])
	return nil
}

// PDelayRespBody Table 48 Pdelay_Resp message fields
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayResp is a full Pdelay_Resp packet
type PDelayResp struct {
	Header
	PDelayRespBody
}

// MarshalBinaryTo marshals PDelayResp into b
func (p *PDelayResp) MarshalBinaryTo(b []byte) (int, error) {
	return marshalTimestampPortID(&p.Header, p.RequestReceiptTimestamp, p.RequestingPortIdentity, b)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayResp) UnmarshalBinary(b []byte) error {
	return unmarshalTimestampPortID(&p.Header, &p.RequestReceiptTimestamp, &p.RequestingPortIdentity, b)
}

// PDelayRespFollowUpBody Table 49 Pdelay_Resp_Follow_Up message fields
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayRespFollowUp is a full Pdelay_Resp_Follow_Up packet
type PDelayRespFollowUp struct {
	Header
	PDelayRespFollowUpBody
}

// MarshalBinaryTo marshals PDelayRespFollowUp into b
func (p *PDelayRespFollowUp) MarshalBinaryTo(b []byte) (int, error) {
	return marshalTimestampPortID(&p.Header, p.ResponseOriginTimestamp, p.RequestingPortIdentity, b)
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *PDelayRespFollowUp) UnmarshalBinary(b []byte) error {
	return unmarshalTimestampPortID(&p.Header, &p.ResponseOriginTimestamp, &p.RequestingPortIdentity, b)
}

// Delay_Resp, PDelay_Resp and PDelay_Resp_Follow_Up share the same layout
func marshalTimestampPortID(h *Header, ts Timestamp, pid PortIdentity, b []byte) (int, error) {
	if len(b) < respSize {
		return 0, fmt.Errorf("not enough space for %s: %d < %d", h.MessageType(), len(b), respSize)
	}
	h.MessageLength = respSize
	n := headerMarshalBinaryTo(h, b)
	putTimestamp(b[n:], ts)
	putPortIdentity(b[n+timestampSize:], pid)
	return respSize, nil
}

func unmarshalTimestampPortID(h *Header, ts *Timestamp, pid *PortIdentity, b []byte) error {
	if len(b) < respSize {
		return fmt.Errorf("not enough data to decode %s", SdoIDAndMsgType(b[0]).MsgType())
	}
	unmarshalHeader(h, b)
	if err := checkPacketLength(h, len(b), respSize); err != nil {
		return err
	}
	*ts = readTimestamp(b[headerSize:])
	*pid = readPortIdentity(b[headerSize+timestampSize:])
	return nil
}

// Packet is an interface to abstract all different packets
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
	PacketHeader() *Header
}

// Bytes converts any packet to []bytes
func Bytes(p Packet) ([]byte, error) {
	m, ok := p.(BinaryMarshalerTo)
	if !ok {
		return nil, fmt.Errorf("packet %s doesn't support marshalling", p.MessageType())
	}
	buf := make([]byte, MaxPacketSize)
	n, err := m.MarshalBinaryTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// DecodePacket provides single entry point to try and decode any []bytes to PTPv2 packet.
// Resulting Packet user can then either switch based on MessageType(), or just with type switch.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("not enough data to decode PTP header: %d bytes", len(b))
	}
	if v := b[1] & 0x0f; v != Version {
		return nil, fmt.Errorf("unsupported PTP version %d", v)
	}
	// ethernet frames may carry padding past messageLength
	if l := int(binary.BigEndian.Uint16(b[2:])); l >= headerSize && l < len(b) {
		b = b[:l]
	}
	var p interface {
		Packet
		UnmarshalBinary([]byte) error
	}
	switch msgType := SdoIDAndMsgType(b[0]).MsgType(); msgType {
	case MessageSync, MessageDelayReq:
		p = &SyncDelayReq{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessageDelayResp:
		p = &DelayResp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	default:
		return nil, fmt.Errorf("unsupported message type %s", msgType)
	}
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return p, nil
}
