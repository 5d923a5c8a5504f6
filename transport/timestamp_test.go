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
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var tsBytes = []byte{63, 155, 21, 96, 0, 0, 0, 0, 52, 156, 191, 42, 0, 0, 0, 0}

const tsNanos = int64(1612028735717200436)

func TestByteToTime(t *testing.T) {
	require.Equal(t, tsNanos, byteToTime(tsBytes).UnixNano())
}

func TestScmTimestamping(t *testing.T) {
	hw := make([]byte, 48)
	copy(hw[32:], tsBytes)
	sw := make([]byte, 48)
	copy(sw, tsBytes)

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "hardware timestamp", data: hw},
		{name: "software timestamp", data: sw},
		{name: "zero timestamp", data: make([]byte, 48), wantErr: true},
		{name: "short", data: tsBytes, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := scmTimestamping(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tsNanos, res.UnixNano())
		})
	}
}

func cmsg(level, typ int32, data []byte) []byte {
	b := make([]byte, cmsgAlign(cmsgHeaderSize+len(data)))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = level
	h.Type = typ
	h.SetLen(cmsgHeaderSize + len(data))
	copy(b[cmsgHeaderSize:], data)
	return b
}

func TestCmsgTimestamp(t *testing.T) {
	sw := make([]byte, 48)
	copy(sw, tsBytes)

	b := cmsg(unix.SOL_SOCKET, int32(unix.SO_TIMESTAMPING_NEW), sw)
	ts, err := cmsgTimestamp(b)
	require.NoError(t, err)
	require.Equal(t, tsNanos, ts.UnixNano())

	// timestamp after another control message
	b = append(cmsg(unix.SOL_IP, unix.IP_TTL, []byte{64, 0, 0, 0}), cmsg(unix.SOL_SOCKET, int32(unix.SO_TIMESTAMPING), sw)...)
	ts, err = cmsgTimestamp(b)
	require.NoError(t, err)
	require.Equal(t, tsNanos, ts.UnixNano())

	_, err = cmsgTimestamp(cmsg(unix.SOL_IP, unix.IP_TTL, []byte{64, 0, 0, 0}))
	require.Error(t, err)
	_, err = cmsgTimestamp(nil)
	require.Error(t, err)
}

func TestParseTimestamping(t *testing.T) {
	ts, err := ParseTimestamping("Hardware")
	require.NoError(t, err)
	require.Equal(t, TimestampingHardware, ts)
	ts, err = ParseTimestamping("software")
	require.NoError(t, err)
	require.Equal(t, TimestampingSoftware, ts)
	_, err = ParseTimestamping("magic")
	require.Error(t, err)
}

func TestSoftwareTimestampsLoopback(t *testing.T) {
	rconn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer rconn.Close()
	rfd, err := connFd(rconn)
	require.NoError(t, err)
	require.NoError(t, enableTimestamps(rfd, "lo", TimestampingSoftware))
	require.NoError(t, unix.SetNonblock(rfd, false))

	sconn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer sconn.Close()
	sfd, err := connFd(sconn)
	require.NoError(t, err)
	require.NoError(t, enableTimestamps(sfd, "lo", TimestampingSoftware))

	sender := newSocket(sfd, true)
	dst := &unix.SockaddrInet4{Port: rconn.LocalAddr().(*net.UDPAddr).Port}
	copy(dst.Addr[:], net.ParseIP("127.0.0.1").To4())
	before := time.Now()
	tx, err := sender.sendTo([]byte{1, 2, 3}, dst, true)
	require.NoError(t, err)
	require.False(t, tx.Before(before.Add(-time.Second)))

	receiver := newSocket(rfd, true)
	buf := make([]byte, 64)
	m, err := receiver.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, m.Data)
	require.True(t, m.Event)
	require.False(t, m.RX.Before(tx))
}
