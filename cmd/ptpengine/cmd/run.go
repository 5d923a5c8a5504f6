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
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flexptp/ptpengine/ptp/daemon"
)

var (
	runConfigFlag string
	runFlags      daemon.Flags
)

func init() {
	RootCmd.AddCommand(runCmd)
	defaults := daemon.DefaultConfig()
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "path to the config")
	runCmd.Flags().StringVarP(&runFlags.Iface, "iface", "i", defaults.Iface, "network interface to use")
	runCmd.Flags().StringVarP(&runFlags.Profile, "profile", "p", defaults.ProfileName, "profile preset, see 'ptpengine profiles'")
	runCmd.Flags().StringVar(&runFlags.Timestamping, "timestamping", string(defaults.Timestamping), "hardware or software timestamps")
	runCmd.Flags().StringVar(&runFlags.Clock, "clock", defaults.Clock, "clock to discipline: phc, system or freerun")
	runCmd.Flags().StringVar(&runFlags.Servo, "servo", string(defaults.Servo), "servo: pid, kalman or debug")
	runCmd.Flags().IntVar(&runFlags.MonitoringPort, "monitoringport", defaults.MonitoringPort, "port to start monitoring http server on, 0 disables it")
	runCmd.Flags().StringVar(&runFlags.LogLevel, "loglevel", defaults.LogLevel, "log level")
}

func runDaemon(cmd *cobra.Command) error {
	setFlags := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		setFlags[f.Name] = true
	})
	cfg, err := daemon.PrepareConfig(runConfigFlag, runFlags, setFlags)
	if err != nil {
		return err
	}
	if !rootVerboseFlag {
		level, _ := log.ParseLevel(cfg.LogLevel)
		log.SetLevel(level)
	}
	d, err := daemon.Open(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Infof("running port %s with profile %s on %s", cfg.Port.Identity, cfg.Port.Profile.Name, cfg.Iface)
	return d.Run(ctx)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a PTP port on a network interface",
	Run: func(cmd *cobra.Command, _ []string) {
		ConfigureVerbosity()
		if err := runDaemon(cmd); err != nil {
			log.Fatal(err)
		}
	},
}
