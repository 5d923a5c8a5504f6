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
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

func init() {
	RootCmd.AddCommand(decodeCmd)
}

// parseHex accepts payloads as printed by tcpdump -x or wireshark, with or without spaces and colons
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}

func decodeAndDump(w io.Writer, payload string) error {
	b, err := parseHex(payload)
	if err != nil {
		return fmt.Errorf("parsing hex: %w", err)
	}
	p, err := ptp.DecodePacket(b)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s from %s, seq %d\n", p.MessageType(), p.PacketHeader().SourcePortIdentity, p.PacketHeader().SequenceID)
	spew.Fdump(w, p)
	return nil
}

var decodeCmd = &cobra.Command{
	Use:   "decode <hex payload>...",
	Short: "Decode PTP payloads given in hex",
	Args:  cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		for _, a := range args {
			if err := decodeAndDump(os.Stdout, a); err != nil {
				log.Fatal(err)
			}
		}
	},
}
