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
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flexptp/ptpengine/ptp/daemon"
)

var tuneAddressFlag string

func init() {
	RootCmd.AddCommand(tuneCmd)
	tuneCmd.Flags().StringVarP(&tuneAddressFlag, "address", "a", "http://localhost:4270", "monitoring endpoint of the running daemon")
}

func parsePPB(arg string) (float64, error) {
	ppb, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("tuning must be a number of ppb: %w", err)
	}
	return ppb, nil
}

var tuneCmd = &cobra.Command{
	Use:   "tune <ppb>",
	Short: "Queue a one-shot frequency tuning on a daemon running the debug servo",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		ppb, err := parsePPB(args[0])
		if err != nil {
			log.Fatal(err)
		}
		if err := daemon.RequestTune(tuneAddressFlag, ppb); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("tuning %+.4f ppb queued\n", ppb)
	},
}
