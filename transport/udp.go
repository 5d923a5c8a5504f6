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
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// IPv4 multicast groups from Annex C
var (
	PrimaryGroup = net.IPv4(224, 0, 1, 129)
	PeerGroup    = net.IPv4(224, 0, 0, 107)
)

// UDPv4 is the PTP over UDP over IPv4 transport
type UDPv4 struct {
	conns   []*net.UDPConn
	event   *socket
	general *socket
}

// connFd returns file descriptor of a connection
func connFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var intfd int
	err = sc.Control(func(fd uintptr) {
		intfd = int(fd)
	})
	if err != nil {
		return -1, err
	}
	return intfd, nil
}

func listenMulticast(iface *net.Interface, port int, dscp int) (*net.UDPConn, int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, -1, err
	}
	pc := ipv4.NewPacketConn(conn)
	for _, group := range []net.IP{PrimaryGroup, PeerGroup} {
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
			conn.Close()
			return nil, -1, fmt.Errorf("joining %s on %s: %w", group, iface.Name, err)
		}
	}
	if err := pc.SetMulticastInterface(iface); err != nil {
		conn.Close()
		return nil, -1, err
	}
	if err := pc.SetMulticastTTL(1); err != nil {
		conn.Close()
		return nil, -1, err
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		conn.Close()
		return nil, -1, err
	}
	if dscp > 0 {
		if err := pc.SetTOS(dscp << 2); err != nil {
			conn.Close()
			return nil, -1, fmt.Errorf("setting DSCP %d: %w", dscp, err)
		}
	}
	fd, err := connFd(conn)
	if err != nil {
		conn.Close()
		return nil, -1, err
	}
	return conn, fd, nil
}

// NewUDPv4 binds event and general sockets on iface
func NewUDPv4(iface *net.Interface, cfg Config) (*UDPv4, error) {
	econn, efd, err := listenMulticast(iface, ptp.PortEvent, cfg.DSCP)
	if err != nil {
		return nil, fmt.Errorf("event socket: %w", err)
	}
	gconn, gfd, err := listenMulticast(iface, ptp.PortGeneral, cfg.DSCP)
	if err != nil {
		econn.Close()
		return nil, fmt.Errorf("general socket: %w", err)
	}
	u := &UDPv4{
		conns:   []*net.UDPConn{econn, gconn},
		event:   newSocket(efd, true),
		general: newSocket(gfd, false),
	}
	if err := enableTimestamps(efd, iface.Name, cfg.Timestamping); err != nil {
		u.Close()
		return nil, fmt.Errorf("failed to enable %s timestamps on port %d: %w", cfg.Timestamping, ptp.PortEvent, err)
	}
	if err := enableRXTimestamps(gfd); err != nil {
		u.Close()
		return nil, fmt.Errorf("failed to enable timestamps on port %d: %w", ptp.PortGeneral, err)
	}
	// recvmsg on a non blocking fd just returns with nothing most of the time
	for _, fd := range []int{efd, gfd} {
		if err := unix.SetNonblock(fd, false); err != nil {
			u.Close()
			return nil, fmt.Errorf("failed to set socket to blocking: %w", err)
		}
		if err := setReadTimeout(fd, readTimeout); err != nil {
			u.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}
	log.Infof("UDPv4 transport on %s, %s timestamps", iface.Name, cfg.Timestamping)
	return u, nil
}

func udpDestination(b []byte, port int) unix.Sockaddr {
	sa := &unix.SockaddrInet4{Port: port}
	group := PrimaryGroup
	if peerDelayMessage(b) {
		group = PeerGroup
	}
	copy(sa.Addr[:], group.To4())
	return sa
}

// Send implements Transport
func (u *UDPv4) Send(b []byte, event bool) (time.Time, error) {
	if event {
		return u.event.sendTo(b, udpDestination(b, ptp.PortEvent), true)
	}
	return u.general.sendTo(b, udpDestination(b, ptp.PortGeneral), false)
}

// Readers implements Transport
func (u *UDPv4) Readers() []Reader {
	return []Reader{u.event, u.general}
}

// Close implements Transport
func (u *UDPv4) Close() error {
	var err error
	for _, c := range u.conns {
		if cerr := c.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}
