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

package profile

import (
	"testing"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestPresets(t *testing.T) {
	require.Equal(t, []string{NameDefP2P, NameDefault, NameGPTP}, Names())
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			p, err := Get(name)
			require.NoError(t, err)
			require.Equal(t, name, p.Name)
			require.NoError(t, p.Validate())
		})
	}

	gptp, err := Get(NameGPTP)
	require.NoError(t, err)
	require.Equal(t, Transport8023, gptp.Transport)
	require.Equal(t, TransportSpecificGPTP, gptp.TransportSpecific)
	require.Equal(t, P2P, gptp.DelayMechanism)
	require.Equal(t, ptp.LogInterval(-3), gptp.LogSyncInterval)
	require.Equal(t, ptp.LogInterval(0), gptp.LogAnnounceInterval)
	require.True(t, gptp.Flags.Has(FlagIssueSyncForCompliantSlaveOnly))
	require.False(t, gptp.SlaveOnly())
	require.Equal(t, TLVSetGPTP, gptp.TLVSet)

	def, err := Get(NameDefault)
	require.NoError(t, err)
	require.Equal(t, E2E, def.DelayMechanism)
	require.Equal(t, TransportIPv4, def.Transport)
	require.Equal(t, ptp.LogInterval(1), def.LogAnnounceInterval)
	require.Equal(t, Flags(0), def.Flags)

	_, err = Get("telecom")
	require.ErrorContains(t, err, "unknown profile")
}

func TestGetReturnsCopy(t *testing.T) {
	p, err := Get(NameDefault)
	require.NoError(t, err)
	p.DomainNumber = 42
	p2, err := Get(NameDefault)
	require.NoError(t, err)
	require.Equal(t, uint8(0), p2.DomainNumber)
}

func TestValidate(t *testing.T) {
	p, err := Get(NameDefault)
	require.NoError(t, err)

	p.LogDelayReqInterval = ptp.LogIntervalSyncMatched
	require.True(t, p.SyncMatched())
	require.NoError(t, p.Validate())

	p.DelayMechanism = P2P
	require.ErrorContains(t, p.Validate(), "sync matched")

	p, _ = Get(NameDefault)
	p.LogSyncInterval = 10
	require.ErrorContains(t, p.Validate(), "log_sync_interval")

	p, _ = Get(NameDefault)
	p.TLVSet = "ccsa"
	require.ErrorContains(t, p.Validate(), "tlv_set")

	p, _ = Get(NameDefault)
	p.AnnounceReceiptTimeout = 1
	require.Error(t, p.Validate())

	p, _ = Get(NameDefault)
	p.Flags |= FlagSlaveOnly
	require.True(t, p.SlaveOnly())
	require.Equal(t, "0x2", p.Flags.String())
}

func TestTLVs(t *testing.T) {
	tlvs := TLVs(TLVSetGPTP, ptp.MessageFollowUp)
	require.Len(t, tlvs, 1)
	_, ok := tlvs[0].(*ptp.FollowUpInformationTLV)
	require.True(t, ok)

	// fresh instances every time
	again := TLVs(TLVSetGPTP, ptp.MessageFollowUp)
	require.NotSame(t, tlvs[0], again[0])

	require.Empty(t, TLVs(TLVSetGPTP, ptp.MessageAnnounce))
	require.Empty(t, TLVs("", ptp.MessageFollowUp))
	require.Equal(t, []string{TLVSetGPTP}, TLVSets())
}

func TestYAML(t *testing.T) {
	in := `
name: custom
transport: 802.3
transport_specific: 1
delay_mechanism: p2p
log_sync_interval: -3
log_announce_interval: 0
announce_receipt_timeout: 3
flags: 3
tlv_set: gptp
`
	p := Profile{}
	require.NoError(t, yaml.Unmarshal([]byte(in), &p))
	require.Equal(t, Transport8023, p.Transport)
	require.Equal(t, P2P, p.DelayMechanism)
	require.Equal(t, ptp.LogInterval(-3), p.LogSyncInterval)
	require.True(t, p.SlaveOnly())
	require.NoError(t, p.Validate())

	out, err := yaml.Marshal(&p)
	require.NoError(t, err)
	require.Contains(t, string(out), "delay_mechanism: P2P")
	back := Profile{}
	require.NoError(t, yaml.Unmarshal(out, &back))
	require.Equal(t, p, back)

	require.Error(t, yaml.Unmarshal([]byte("transport: udp6"), &p))
	require.Error(t, yaml.Unmarshal([]byte("delay_mechanism: none"), &p))
}
