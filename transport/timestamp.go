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
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrNoTimestamp means a packet arrived without the timestamp we asked for
var ErrNoTimestamp = errors.New("no timestamp")

// Timestamping selects where packet timestamps come from
type Timestamping string

// Supported timestamping modes
const (
	TimestampingHardware Timestamping = "hardware"
	TimestampingSoftware Timestamping = "software"
)

// ParseTimestamping parses timestamping mode name
func ParseTimestamping(s string) (Timestamping, error) {
	switch ts := Timestamping(strings.ToLower(s)); ts {
	case TimestampingHardware, TimestampingSoftware:
		return ts, nil
	}
	return "", fmt.Errorf("unknown timestamping mode %q", s)
}

// from include/uapi/linux/net_tstamp.h
const (
	hwtstampTXON             int32 = 0x00000001
	hwtstampFilterAll        int32 = 0x00000001
	hwtstampFilterPTPv2Event int32 = 0x0000000c
)

const (
	// control messages may pile up if a read fails, so leave room for a few
	controlSize = 128
	// tx timestamps we drain from the error queue in one go
	maxTXTS = 100
)

// unix.Cmsghdr size differs depending on platform
var cmsgHeaderSize = binary.Size(unix.Cmsghdr{})

var soTimestamping = unix.SO_TIMESTAMPING_NEW

func init() {
	// kernels before 5.x don't know SO_TIMESTAMPING_NEW
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil && uname.Release[0] < '5' {
		soTimestamping = unix.SO_TIMESTAMPING
	}
}

type ifreq struct {
	name [unix.IFNAMSIZ]byte
	data uintptr
}

type hwtstampConfig struct {
	flags    int32
	txType   int32
	rxFilter int32
}

func ioctlHWTimestamp(fd int, iface string, filter int32) error {
	hw := &hwtstampConfig{txType: hwtstampTXON, rxFilter: filter}
	i := &ifreq{data: uintptr(unsafe.Pointer(hw))}
	copy(i.name[:unix.IFNAMSIZ-1], iface)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCSHWTSTAMP, uintptr(unsafe.Pointer(i))); errno != 0 {
		return fmt.Errorf("failed to run ioctl SIOCSHWTSTAMP on %s: %s (%d)", iface, unix.ErrnoName(errno), errno)
	}
	return nil
}

// enableTimestamps turns on RX and TX timestamps for the socket
func enableTimestamps(fd int, iface string, mode Timestamping) error {
	var flags int
	switch mode {
	case TimestampingHardware:
		if err := ioctlHWTimestamp(fd, iface, hwtstampFilterAll); err != nil {
			if err := ioctlHWTimestamp(fd, iface, hwtstampFilterPTPv2Event); err != nil {
				return err
			}
		}
		flags = unix.SOF_TIMESTAMPING_TX_HARDWARE |
			unix.SOF_TIMESTAMPING_RX_HARDWARE |
			unix.SOF_TIMESTAMPING_RAW_HARDWARE
	case TimestampingSoftware:
		flags = unix.SOF_TIMESTAMPING_TX_SOFTWARE |
			unix.SOF_TIMESTAMPING_RX_SOFTWARE |
			unix.SOF_TIMESTAMPING_SOFTWARE
	default:
		return fmt.Errorf("unknown timestamping mode %q", mode)
	}
	// tx timestamps come back without a copy of the packet
	flags |= unix.SOF_TIMESTAMPING_OPT_TSONLY
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, soTimestamping, flags); err != nil {
		return fmt.Errorf("setting SO_TIMESTAMPING: %w", err)
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1)
}

// enableRXTimestamps turns on software RX timestamps only, for general messages
func enableRXTimestamps(fd int) error {
	flags := unix.SOF_TIMESTAMPING_RX_SOFTWARE | unix.SOF_TIMESTAMPING_SOFTWARE
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, soTimestamping, flags)
}

// byteToTime converts __kernel_timespec bytes into a timestamp
func byteToTime(data []byte) time.Time {
	sec := int64(binary.LittleEndian.Uint64(data[0:8]))
	nsec := int64(binary.LittleEndian.Uint64(data[8:16]))
	return time.Unix(sec, nsec)
}

// scmTimestamping picks the hardware timestamp (ts[2]) if set, software (ts[0]) otherwise
func scmTimestamping(data []byte) (time.Time, error) {
	if len(data) < 48 {
		return time.Time{}, fmt.Errorf("timestamping control message too short: %d", len(data))
	}
	if ts := byteToTime(data[32:48]); ts.UnixNano() != 0 {
		return ts, nil
	}
	if ts := byteToTime(data[0:16]); ts.UnixNano() != 0 {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("got zero timestamp")
}

// cmsgTimestamp finds the timestamping message in the socket control data
func cmsgTimestamp(b []byte) (time.Time, error) {
	mlen := 0
	for i := 0; i+cmsgHeaderSize <= len(b); i += mlen {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&b[i]))
		mlen = int(h.Len)
		if mlen < cmsgHeaderSize || i+mlen > len(b) {
			break
		}
		// older kernels answer SO_TIMESTAMPING_NEW requests with SO_TIMESTAMPING
		if h.Level == unix.SOL_SOCKET && (int(h.Type) == unix.SO_TIMESTAMPING_NEW || int(h.Type) == unix.SO_TIMESTAMPING) {
			return scmTimestamping(b[i+cmsgHeaderSize : i+mlen])
		}
		mlen = cmsgAlign(mlen)
	}
	return time.Time{}, fmt.Errorf("failed to find timestamp in socket control message")
}

func cmsgAlign(l int) int {
	salign := unix.SizeofPtr
	return (l + salign - 1) & ^(salign - 1)
}

// readWithTimestamp reads one packet and its RX timestamp.
// Packet data is valid even when the timestamp is missing.
func readWithTimestamp(fd int, buf, oob []byte) (int, unix.Sockaddr, time.Time, error) {
	n, oobn, _, sa, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return 0, nil, time.Time{}, err
	}
	ts, err := cmsgTimestamp(oob[:oobn])
	if err != nil {
		return n, sa, time.Time{}, fmt.Errorf("%w: %w", ErrNoTimestamp, err)
	}
	return n, sa, ts, nil
}

func waitErrQueue(fd int) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLPRI}}
	// 1ms, errors don't matter since we read the queue anyway
	_, _ = unix.Poll(fds, 1)
}

// recvErrQueue reads only control data from MSG_ERRQUEUE
func recvErrQueue(fd int, oob []byte) (int, error) {
	var msg unix.Msghdr
	msg.Control = &oob[0]
	msg.SetControllen(len(oob))
	_, _, e1 := unix.Syscall(unix.SYS_RECVMSG, uintptr(fd), uintptr(unsafe.Pointer(&msg)), uintptr(unix.MSG_ERRQUEUE))
	if e1 != 0 {
		return 0, e1
	}
	return int(msg.Controllen), nil
}

// readTXTimestamp drains the error queue and returns the newest TX timestamp.
// Stale timestamps left in the queue would shift every following read by one packet.
func readTXTimestamp(fd int, oob, toob []byte) (time.Time, error) {
	var n int
	found := false
	for attempt := 0; attempt < maxTXTS; attempt++ {
		if !found {
			waitErrQueue(fd)
		}
		tn, err := recvErrQueue(fd, toob)
		if err != nil {
			if found {
				break
			}
			continue
		}
		found = true
		n = tn
		copy(oob, toob)
	}
	if !found {
		return time.Time{}, fmt.Errorf("no TX timestamp found after %d tries", maxTXTS)
	}
	return cmsgTimestamp(oob[:n])
}
