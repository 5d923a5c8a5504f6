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

package cmd

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/flexptp/ptpengine/ptp/stats"
)

const syncHex = "10 02 00 2c 00 00 02 00 00 00 00 00 00 00 00 00 00 00 00 00 b8 ce f6 ff fe 02 10 4c 00 01 04 d2 00 fd 00 00 45 b1 11 5a 0a 64 fa b0"

func TestParseHex(t *testing.T) {
	b, err := parseHex("0x10:02\n00 2c")
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x02, 0x00, 0x2c}, b)

	_, err = parseHex("zz")
	require.Error(t, err)
}

func TestDecodeAndDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, decodeAndDump(&buf, syncHex))
	require.Contains(t, buf.String(), "SYNC from b8cef6.fffe.02104c-1, seq 1234")
	require.Contains(t, buf.String(), "SequenceID: (uint16) 1234")

	require.Error(t, decodeAndDump(&buf, "10 02"))
}

func TestPrintProfiles(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	require.NoError(t, printProfiles(&buf))
	out := buf.String()
	require.Contains(t, out, "gPTP")
	require.Contains(t, out, "defp2p")
	require.Contains(t, out, "default")
}

func TestPrintStatus(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printStatus(&buf, &stats.Stat{
		PortIdentity:  "001122.3344.556677-1",
		State:         "SLAVE",
		Parent:        "b8cef6.fffe.02104c-1",
		Grandmaster:   "b8cef6.fffe.02104c",
		Offset:        -42,
		MeanPathDelay: 1200,
		FrequencyPPB:  12.5,
		Locked:        true,
	})
	out := buf.String()
	require.Contains(t, out, "SLAVE (locked)")
	require.Contains(t, out, "offset:       -42 ns")
	require.Contains(t, out, "frequency:    +12.500 ppb")
	require.NotContains(t, out, "peer:")

	buf.Reset()
	printStatus(&buf, &stats.Stat{PortIdentity: "001122.3344.556677-1", State: "MASTER"})
	require.NotContains(t, buf.String(), "offset")
	require.Contains(t, buf.String(), "state:        MASTER")
}

func TestPrintCountersSorted(t *testing.T) {
	var buf bytes.Buffer
	printCounters(&buf, map[string]int64{"tx.sync": 3, "rx.announce": 1})
	require.Equal(t, "rx.announce: 1\ntx.sync: 3\n", buf.String())
}

func TestParsePPB(t *testing.T) {
	ppb, err := parsePPB("-12.5")
	require.NoError(t, err)
	require.Equal(t, -12.5, ppb)

	_, err = parsePPB("fast")
	require.Error(t, err)
}
