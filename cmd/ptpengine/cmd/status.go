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
	"sort"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"github.com/flexptp/ptpengine/ptp/stats"
)

var (
	statusAddressFlag  string
	statusCountersFlag bool
)

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusAddressFlag, "address", "a", "http://localhost:4270", "monitoring endpoint of the running daemon")
	statusCmd.Flags().BoolVar(&statusCountersFlag, "counters", false, "print all counters too")
}

func stateString(s *stats.Stat) string {
	switch {
	case s.State == "SLAVE" && s.Locked:
		return color.GreenString("%s (locked)", s.State)
	case s.State == "SLAVE":
		return color.YellowString("%s (unlocked)", s.State)
	case s.State == "FAULTY" || s.State == "DISABLED":
		return color.RedString("%s", s.State)
	}
	return s.State
}

func printStatus(w io.Writer, s *stats.Stat) {
	fmt.Fprintf(w, "port:         %s\n", s.PortIdentity)
	fmt.Fprintf(w, "state:        %s\n", stateString(s))
	if s.Grandmaster != "" {
		fmt.Fprintf(w, "grandmaster:  %s\n", s.Grandmaster)
	}
	if s.Parent != "" {
		fmt.Fprintf(w, "parent:       %s\n", s.Parent)
		fmt.Fprintf(w, "offset:       %d ns\n", s.Offset)
		fmt.Fprintf(w, "path delay:   %d ns\n", s.MeanPathDelay)
		fmt.Fprintf(w, "frequency:    %+.3f ppb\n", s.FrequencyPPB)
		fmt.Fprintf(w, "filtered err: %.1f ns\n", s.FilteredError)
	}
	if s.Peer != nil {
		fmt.Fprintf(w, "peer:         %s %s (%d reports), path delay %d ns\n", s.Peer.Identity, s.Peer.Compliance, s.Peer.Reports, s.Peer.MeanPathDelay)
	}
}

func printCounters(w io.Writer, counters map[string]int64) {
	keys := maps.Keys(counters)
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %d\n", k, counters[k])
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print state of a running daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		s, err := stats.FetchStat(statusAddressFlag)
		if err != nil {
			log.Fatal(err)
		}
		printStatus(os.Stdout, s)
		if statusCountersFlag {
			counters, err := stats.FetchCounters(statusAddressFlag)
			if err != nil {
				log.Fatal(err)
			}
			printCounters(os.Stdout, counters)
		}
	},
}
