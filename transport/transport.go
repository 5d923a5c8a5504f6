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
Package transport moves encoded PTP messages between the port and the wire.

UDPv4 uses the event (319) and general (320) ports with the 224.0.1.129 and
224.0.0.107 multicast groups. IEEE802_3 sends raw ethernet frames with
ethertype 0x88F7 to 01-1B-19-00-00-00 and 01-80-C2-00-00-0E. Event messages
are timestamped by the kernel or the NIC through SO_TIMESTAMPING.
*/
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/flexptp/ptpengine/ptp/profile"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// Message is a received PTP message with its RX timestamp
type Message struct {
	Data  []byte
	RX    time.Time
	Event bool
}

// Reader reads messages from one socket. Read blocks.
type Reader interface {
	Read(buf []byte) (Message, error)
}

// Transport sends and receives encoded PTP messages
type Transport interface {
	// Send transmits b and returns the TX timestamp for event messages
	Send(b []byte, event bool) (time.Time, error)
	Readers() []Reader
	Close() error
}

// Config is the transport configuration
type Config struct {
	Iface        string
	Timestamping Timestamping
	DSCP         int
}

// New opens the transport the profile asks for
func New(cfg Config, t profile.Transport) (Transport, error) {
	iface, err := net.InterfaceByName(cfg.Iface)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %q: %w", cfg.Iface, err)
	}
	switch t {
	case profile.TransportIPv4:
		return NewUDPv4(iface, cfg)
	case profile.Transport8023:
		return NewIEEE8023(iface, cfg)
	}
	return nil, fmt.Errorf("unsupported transport %s", t)
}

// peerDelayMessage tells if the encoded message belongs to the peer delay mechanism.
// Those go to the link local group and are never forwarded by bridges.
func peerDelayMessage(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	switch ptp.SdoIDAndMsgType(b[0]).MsgType() {
	case ptp.MessagePDelayReq, ptp.MessagePDelayResp, ptp.MessagePDelayRespFollowUp:
		return true
	}
	return false
}

// socket is a raw fd with timestamping buffers
type socket struct {
	fd    int
	event bool
	// rx control buffer, owned by the single reader
	oob []byte
	// tx control buffers, owned by the single sender
	txoob  []byte
	txtoob []byte
}

func newSocket(fd int, event bool) *socket {
	return &socket{
		fd:     fd,
		event:  event,
		oob:    make([]byte, controlSize),
		txoob:  make([]byte, controlSize),
		txtoob: make([]byte, controlSize),
	}
}

// Read implements Reader. General messages without a kernel timestamp get the current time.
func (s *socket) Read(buf []byte) (Message, error) {
	n, _, rx, err := readWithTimestamp(s.fd, buf, s.oob)
	if err != nil {
		if !errors.Is(err, ErrNoTimestamp) || s.event {
			return Message{}, err
		}
		rx = time.Now()
	}
	return Message{Data: buf[:n], RX: rx, Event: s.event}, nil
}

func (s *socket) sendTo(b []byte, sa unix.Sockaddr, event bool) (time.Time, error) {
	if err := unix.Sendto(s.fd, b, 0, sa); err != nil {
		return time.Time{}, err
	}
	if !event {
		return time.Time{}, nil
	}
	ts, err := readTXTimestamp(s.fd, s.txoob, s.txtoob)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrNoTimestamp, err)
	}
	return ts, nil
}

// readTimeout bounds blocking reads so readers notice shutdown
const readTimeout = 500 * time.Millisecond

func setReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

// Timeout tells if a Read returned because nothing arrived in time
func Timeout(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
