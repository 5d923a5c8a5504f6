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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/flexptp/ptpengine/hostendian"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// EtherTypePTP is the PTP ethertype from Annex F
const EtherTypePTP layers.EthernetType = 0x88F7

// Annex F destination addresses
var (
	PrimaryMAC = net.HardwareAddr{0x01, 0x1B, 0x19, 0x00, 0x00, 0x00}
	PeerMAC    = net.HardwareAddr{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}
)

// IEEE8023 is the PTP over ethernet transport
type IEEE8023 struct {
	iface *net.Interface
	sock  *socket
}

// eventMessage tells if messages of type mt are timestamped
func eventMessage(mt ptp.MessageType) bool {
	switch mt {
	case ptp.MessageSync, ptp.MessageDelayReq, ptp.MessagePDelayReq, ptp.MessagePDelayResp:
		return true
	}
	return false
}

func addMembership(fd int, iface *net.Interface, mac net.HardwareAddr) error {
	mreq := &unix.PacketMreq{
		Ifindex: int32(iface.Index),
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    uint16(len(mac)),
	}
	copy(mreq.Address[:], mac)
	return unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq)
}

// NewIEEE8023 opens an AF_PACKET socket bound to iface
func NewIEEE8023(iface *net.Interface, cfg Config) (*IEEE8023, error) {
	proto := hostendian.Htons(uint16(EtherTypePTP))
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("creating packet socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding to %s: %w", iface.Name, err)
	}
	for _, mac := range []net.HardwareAddr{PrimaryMAC, PeerMAC} {
		if err := addMembership(fd, iface, mac); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("joining %s on %s: %w", mac, iface.Name, err)
		}
	}
	if err := setReadTimeout(fd, readTimeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := enableTimestamps(fd, iface.Name, cfg.Timestamping); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to enable %s timestamps: %w", cfg.Timestamping, err)
	}
	log.Infof("IEEE 802.3 transport on %s (%s), %s timestamps", iface.Name, iface.HardwareAddr, cfg.Timestamping)
	return &IEEE8023{iface: iface, sock: newSocket(fd, true)}, nil
}

// frame wraps an encoded PTP message into an ethernet frame
func frame(src net.HardwareAddr, b []byte) ([]byte, net.HardwareAddr, error) {
	dst := PrimaryMAC
	if peerDelayMessage(b) {
		dst = PeerMAC
	}
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: EtherTypePTP,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(b)); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), dst, nil
}

// unframe returns the PTP payload of an ethernet frame
func unframe(f []byte) ([]byte, error) {
	packet := gopacket.NewPacket(f, layers.LayerTypeEthernet, gopacket.NoCopy)
	l := packet.Layer(layers.LayerTypeEthernet)
	if l == nil {
		return nil, fmt.Errorf("not an ethernet frame")
	}
	eth := l.(*layers.Ethernet)
	if eth.EthernetType != EtherTypePTP {
		return nil, fmt.Errorf("unexpected ethertype %s", eth.EthernetType)
	}
	return eth.Payload, nil
}

// Send implements Transport
func (e *IEEE8023) Send(b []byte, event bool) (time.Time, error) {
	f, dst, err := frame(e.iface.HardwareAddr, b)
	if err != nil {
		return time.Time{}, err
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: hostendian.Htons(uint16(EtherTypePTP)),
		Ifindex:  e.iface.Index,
		Halen:    uint8(len(dst)),
	}
	copy(sa.Addr[:], dst)
	return e.sock.sendTo(f, sa, event)
}

// Read implements Reader. Event flag comes from the message type since both kinds share the socket.
func (e *IEEE8023) Read(buf []byte) (Message, error) {
	for {
		n, sa, rx, err := readWithTimestamp(e.sock.fd, buf, e.sock.oob)
		if ll, ok := sa.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
			continue
		}
		if err != nil && !errors.Is(err, ErrNoTimestamp) {
			return Message{}, err
		}
		payload, ferr := unframe(buf[:n])
		if ferr != nil || len(payload) == 0 {
			log.Debugf("dropping frame: %v", ferr)
			continue
		}
		event := eventMessage(ptp.SdoIDAndMsgType(payload[0]).MsgType())
		if err != nil {
			if event {
				return Message{}, err
			}
			rx = time.Now()
		}
		return Message{Data: payload, RX: rx, Event: event}, nil
	}
}

// Readers implements Transport
func (e *IEEE8023) Readers() []Reader {
	return []Reader{e}
}

// Close implements Transport
func (e *IEEE8023) Close() error {
	return unix.Close(e.sock.fd)
}
