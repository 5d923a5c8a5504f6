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
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flexptp/ptpengine/ptp/profile"
)

func flagsCell(f profile.Flags) string {
	if f == 0 {
		return "-"
	}
	return color.YellowString("%s", f)
}

func profileRow(p profile.Profile) []string {
	tlvs := p.TLVSet
	if tlvs == "" {
		tlvs = "-"
	}
	return []string{
		color.GreenString("%s", p.Name),
		p.Transport.String(),
		p.DelayMechanism.String(),
		fmt.Sprintf("%d", p.TransportSpecific),
		fmt.Sprintf("%d", p.DomainNumber),
		fmt.Sprintf("%d", p.LogSyncInterval),
		fmt.Sprintf("%d", p.LogAnnounceInterval),
		fmt.Sprintf("%d", p.LogDelayReqInterval),
		fmt.Sprintf("%d", p.AnnounceReceiptTimeout),
		flagsCell(p.Flags),
		tlvs,
	}
}

func printProfiles(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{
		"name", "transport", "delay", "transport specific", "domain", "sync", "announce", "delay req", "receipt timeout", "flags", "tlvs",
	})
	for _, name := range profile.Names() {
		p, err := profile.Get(name)
		if err != nil {
			return err
		}
		table.Append(profileRow(p))
	}
	table.Render()
	return nil
}

func init() {
	RootCmd.AddCommand(profilesCmd)
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Print available profile presets",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := printProfiles(os.Stdout); err != nil {
			log.Fatal(err)
		}
	},
}
