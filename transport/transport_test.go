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

package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

func encode(t *testing.T, p ptp.Packet) []byte {
	b, err := ptp.Bytes(p)
	require.NoError(t, err)
	return b
}

func header(mt ptp.MessageType) ptp.Header {
	return ptp.Header{SdoIDAndMsgType: ptp.NewSdoIDAndMsgType(mt, 1), Version: ptp.Version, SequenceID: 17}
}

func TestPeerDelayMessage(t *testing.T) {
	require.True(t, peerDelayMessage(encode(t, &ptp.PDelayReq{Header: header(ptp.MessagePDelayReq)})))
	require.True(t, peerDelayMessage(encode(t, &ptp.PDelayRespFollowUp{Header: header(ptp.MessagePDelayRespFollowUp)})))
	require.False(t, peerDelayMessage(encode(t, &ptp.SyncDelayReq{Header: header(ptp.MessageSync)})))
	require.False(t, peerDelayMessage(encode(t, &ptp.Announce{Header: header(ptp.MessageAnnounce)})))
	require.False(t, peerDelayMessage(nil))
}

func TestUDPDestination(t *testing.T) {
	sa := udpDestination(encode(t, &ptp.SyncDelayReq{Header: header(ptp.MessageSync)}), ptp.PortEvent).(*unix.SockaddrInet4)
	require.Equal(t, ptp.PortEvent, sa.Port)
	require.Equal(t, [4]byte{224, 0, 1, 129}, sa.Addr)

	sa = udpDestination(encode(t, &ptp.PDelayResp{Header: header(ptp.MessagePDelayResp)}), ptp.PortEvent).(*unix.SockaddrInet4)
	require.Equal(t, [4]byte{224, 0, 0, 107}, sa.Addr)
}

func TestEventMessage(t *testing.T) {
	require.True(t, eventMessage(ptp.MessageSync))
	require.True(t, eventMessage(ptp.MessagePDelayResp))
	require.False(t, eventMessage(ptp.MessageFollowUp))
	require.False(t, eventMessage(ptp.MessageAnnounce))
}

func TestEthernetFraming(t *testing.T) {
	src := net.HardwareAddr{0x02, 0x00, 0x00, 0xaa, 0xbb, 0xcc}
	sync := &ptp.SyncDelayReq{Header: header(ptp.MessageSync)}
	b := encode(t, sync)

	f, dst, err := frame(src, b)
	require.NoError(t, err)
	require.Equal(t, PrimaryMAC, dst)
	require.Equal(t, []byte(PrimaryMAC), f[0:6])
	require.Equal(t, []byte(src), f[6:12])
	require.Equal(t, []byte{0x88, 0xf7}, f[12:14])

	payload, err := unframe(f)
	require.NoError(t, err)
	require.Equal(t, b, payload[:len(b)])
	decoded, err := ptp.DecodePacket(payload)
	require.NoError(t, err)
	require.Equal(t, sync, decoded)

	_, dst, err = frame(src, encode(t, &ptp.PDelayReq{Header: header(ptp.MessagePDelayReq)}))
	require.NoError(t, err)
	require.Equal(t, PeerMAC, dst)
}

func TestUnframeRejectsOtherEthertype(t *testing.T) {
	f, _, err := frame(net.HardwareAddr{0x02, 0, 0, 0, 0, 1}, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	// IPv4 ethertype
	f[12], f[13] = 0x08, 0x00
	_, err = unframe(f)
	require.Error(t, err)
}
