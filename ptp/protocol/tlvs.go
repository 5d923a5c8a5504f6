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
)

// TLV abstracts away any TLV
type TLV interface {
	Type() TLVType
}

// BinaryMarshalerTo is implemented by everything that can be written into a preallocated buffer
type BinaryMarshalerTo interface {
	MarshalBinaryTo(b []byte) (int, error)
}

const tlvHeadSize = 4

// TLVHead is a common part of all TLVs
type TLVHead struct {
	TLVType     TLVType
	LengthField uint16 // The length of all TLVs shall be an even number of octets
}

// Type implements TLV interface
func (t TLVHead) Type() TLVType {
	return t.TLVType
}

func tlvHeadMarshalBinaryTo(t *TLVHead, b []byte) {
	binary.BigEndian.PutUint16(b, uint16(t.TLVType))
	binary.BigEndian.PutUint16(b[2:], t.LengthField)
}

func unmarshalTLVHeader(p *TLVHead, b []byte) error {
	if len(b) < tlvHeadSize {
		return fmt.Errorf("not enough data to decode TLV header")
	}
	p.TLVType = TLVType(binary.BigEndian.Uint16(b[0:]))
	p.LengthField = binary.BigEndian.Uint16(b[2:])
	if tlvHeadSize+int(p.LengthField) > len(b) {
		return fmt.Errorf("cannot decode TLV %s of length %d from %d bytes", p.TLVType, tlvHeadSize+int(p.LengthField), len(b))
	}
	return nil
}

// Organization identifiers and subtypes we know about
var (
	OrgIEEE8021         = [3]byte{0x00, 0x80, 0xC2}
	OrgSubTypeFollowUp  = [3]byte{0x00, 0x00, 0x01}
	gptpFollowUpTLVSize = uint16(28)
)

// OrganizationExtensionTLV Table 53 ORGANIZATION_EXTENSION TLV format, for organizations we don't decode
type OrganizationExtensionTLV struct {
	TLVHead
	OrganizationID      [3]byte
	OrganizationSubType [3]byte
	Data                []byte
}

// MarshalBinaryTo marshals OrganizationExtensionTLV into b
func (t *OrganizationExtensionTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + 6 + len(t.Data)
	if len(b) < size {
		return 0, fmt.Errorf("not enough space for ORGANIZATION_EXTENSION TLV: %d < %d", len(b), size)
	}
	t.LengthField = uint16(6 + len(t.Data))
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	copy(b[tlvHeadSize:], t.OrganizationID[:])
	copy(b[tlvHeadSize+3:], t.OrganizationSubType[:])
	copy(b[tlvHeadSize+6:], t.Data)
	return size, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *OrganizationExtensionTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if t.LengthField < 6 {
		return fmt.Errorf("ORGANIZATION_EXTENSION TLV too short: %d", t.LengthField)
	}
	copy(t.OrganizationID[:], b[tlvHeadSize:])
	copy(t.OrganizationSubType[:], b[tlvHeadSize+3:])
	t.Data = make([]byte, int(t.LengthField)-6)
	copy(t.Data, b[tlvHeadSize+6:tlvHeadSize+int(t.LengthField)])
	return nil
}

// FollowUpInformationTLV is the 802.1AS Follow_Up information TLV (11.4.4.3), carried on Follow_Up messages
type FollowUpInformationTLV struct {
	TLVHead
	CumulativeScaledRateOffset int32
	GMTimeBaseIndicator        uint16
	LastGMPhaseChange          [12]byte
	ScaledLastGMFreqChange     int32
}

// NewFollowUpInformationTLV returns the TLV with zero rate/phase fields
func NewFollowUpInformationTLV() *FollowUpInformationTLV {
	return &FollowUpInformationTLV{
		TLVHead: TLVHead{TLVType: TLVOrganizationExtension, LengthField: gptpFollowUpTLVSize},
	}
}

// MarshalBinaryTo marshals FollowUpInformationTLV into b
func (t *FollowUpInformationTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + int(gptpFollowUpTLVSize)
	if len(b) < size {
		return 0, fmt.Errorf("not enough space for Follow_Up information TLV: %d < %d", len(b), size)
	}
	t.TLVType = TLVOrganizationExtension
	t.LengthField = gptpFollowUpTLVSize
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	copy(b[4:], OrgIEEE8021[:])
	copy(b[7:], OrgSubTypeFollowUp[:])
	binary.BigEndian.PutUint32(b[10:], uint32(t.CumulativeScaledRateOffset))
	binary.BigEndian.PutUint16(b[14:], t.GMTimeBaseIndicator)
	copy(b[16:28], t.LastGMPhaseChange[:])
	binary.BigEndian.PutUint32(b[28:], uint32(t.ScaledLastGMFreqChange))
	return size, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *FollowUpInformationTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if t.LengthField != gptpFollowUpTLVSize {
		return fmt.Errorf("Follow_Up information TLV must have length %d, got %d", gptpFollowUpTLVSize, t.LengthField)
	}
	t.CumulativeScaledRateOffset = int32(binary.BigEndian.Uint32(b[10:]))
	t.GMTimeBaseIndicator = binary.BigEndian.Uint16(b[14:])
	copy(t.LastGMPhaseChange[:], b[16:28])
	t.ScaledLastGMFreqChange = int32(binary.BigEndian.Uint32(b[28:]))
	return nil
}

// PathTraceTLV Table 115 PATH_TRACE TLV format
type PathTraceTLV struct {
	TLVHead
	PathSequence []ClockIdentity
}

// MarshalBinaryTo marshals PathTraceTLV into b
func (t *PathTraceTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + 8*len(t.PathSequence)
	if len(b) < size {
		return 0, fmt.Errorf("not enough space for PATH_TRACE TLV: %d < %d", len(b), size)
	}
	t.TLVType = TLVPathTrace
	t.LengthField = uint16(8 * len(t.PathSequence))
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	pos := tlvHeadSize
	for _, ps := range t.PathSequence {
		binary.BigEndian.PutUint64(b[pos:], uint64(ps))
		pos += 8
	}
	return pos, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *PathTraceTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if t.LengthField%8 != 0 {
		return fmt.Errorf("PATH_TRACE TLV length %d is not a multiple of 8", t.LengthField)
	}
	n := int(t.LengthField) / 8
	t.PathSequence = make([]ClockIdentity, 0, n)
	for i := 0; i < n; i++ {
		pos := tlvHeadSize + i*8
		t.PathSequence = append(t.PathSequence, ClockIdentity(binary.BigEndian.Uint64(b[pos:])))
	}
	return nil
}

// RawTLV keeps TLVs we don't decode, so they can be skipped or forwarded untouched
type RawTLV struct {
	TLVHead
	Value []byte
}

// MarshalBinaryTo marshals RawTLV into b
func (t *RawTLV) MarshalBinaryTo(b []byte) (int, error) {
	size := tlvHeadSize + len(t.Value)
	if len(b) < size {
		return 0, fmt.Errorf("not enough space for TLV %s: %d < %d", t.TLVType, len(b), size)
	}
	t.LengthField = uint16(len(t.Value))
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	copy(b[tlvHeadSize:], t.Value)
	return size, nil
}

// UnmarshalBinary parses []byte and populates struct fields
func (t *RawTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	t.Value = make([]byte, t.LengthField)
	copy(t.Value, b[tlvHeadSize:])
	return nil
}

func tlvsLength(tlvs []TLV) int {
	n := 0
	for _, tlv := range tlvs {
		switch v := tlv.(type) {
		case *FollowUpInformationTLV:
			n += tlvHeadSize + int(gptpFollowUpTLVSize)
		case *OrganizationExtensionTLV:
			n += tlvHeadSize + 6 + len(v.Data)
		case *PathTraceTLV:
			n += tlvHeadSize + 8*len(v.PathSequence)
		case *RawTLV:
			n += tlvHeadSize + len(v.Value)
		}
	}
	return n
}

func writeTLVs(tlvs []TLV, b []byte) (int, error) {
	pos := 0
	for _, tlv := range tlvs {
		m, ok := tlv.(BinaryMarshalerTo)
		if !ok {
			return 0, fmt.Errorf("TLV %s cannot be marshalled", tlv.Type())
		}
		n, err := m.MarshalBinaryTo(b[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	return pos, nil
}

func readTLVs(b []byte) ([]TLV, error) {
	var tlvs []TLV
	pos := 0
	// packet can have trailing bytes, stop when there is no room for another header
	for pos+tlvHeadSize <= len(b) {
		head := TLVHead{}
		if err := unmarshalTLVHeader(&head, b[pos:]); err != nil {
			return tlvs, err
		}
		var (
			tlv TLV
			err error
		)
		switch head.TLVType {
		case TLVOrganizationExtension:
			tlv, err = readOrgTLV(b[pos:])
		case TLVPathTrace:
			pt := &PathTraceTLV{}
			err = pt.UnmarshalBinary(b[pos:])
			tlv = pt
		default:
			raw := &RawTLV{}
			err = raw.UnmarshalBinary(b[pos:])
			tlv = raw
		}
		if err != nil {
			return tlvs, err
		}
		tlvs = append(tlvs, tlv)
		pos += tlvHeadSize + int(head.LengthField)
	}
	return tlvs, nil
}

func readOrgTLV(b []byte) (TLV, error) {
	org := &OrganizationExtensionTLV{}
	if err := org.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if org.OrganizationID == OrgIEEE8021 && org.OrganizationSubType == OrgSubTypeFollowUp {
		fu := &FollowUpInformationTLV{}
		if err := fu.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return fu, nil
	}
	return org, nil
}
