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

package port

import (
	"fmt"
	"time"

	"github.com/flexptp/ptpengine/ptp/bmc"
	"github.com/flexptp/ptpengine/ptp/profile"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
	"github.com/flexptp/ptpengine/servo"
)

// defaults
const (
	DefaultPriority            = 128
	DefaultClockClass          = ptp.ClockClass(248)
	DefaultClockAccuracy       = ptp.ClockAccuracy(0xFE)
	DefaultTimeSource          = ptp.TimeSourceInternalOscillator
	DefaultCurrentUTCOffset    = 37
	DefaultTxTimestampTimeout  = 100 * time.Millisecond
	DefaultMaxNetworkErrors    = 10
	DefaultCoarseThreshold     = 20 * time.Millisecond
	DefaultCorrelationWindow   = 4
	DefaultFollowUpSyncPeriods = 2
)

// Config is the port configuration
type Config struct {
	Profile  profile.Profile  `yaml:"profile"`
	Identity ptp.PortIdentity `yaml:"-"`

	Priority1        uint8             `yaml:"priority1"`
	Priority2        uint8             `yaml:"priority2"`
	ClockClass       ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy    ptp.ClockAccuracy `yaml:"clock_accuracy"`
	ClockVariance    uint16            `yaml:"offset_scaled_log_variance"`
	TimeSource       ptp.TimeSource    `yaml:"time_source"`
	CurrentUTCOffset int16             `yaml:"current_utc_offset"`
	TwoStep          bool              `yaml:"two_step"`

	ForeignMasterThreshold  int           `yaml:"foreign_master_threshold"`
	PreMasterGuard          time.Duration `yaml:"pre_master_guard"`
	ListeningTimeout        time.Duration `yaml:"listening_timeout"`
	UncalibratedUntilOffset bool          `yaml:"uncalibrated_until_offset"`

	FollowUpTimeout       time.Duration `yaml:"follow_up_timeout"` // 0 means DefaultFollowUpSyncPeriods sync intervals
	TxTimestampTimeout    time.Duration `yaml:"tx_timestamp_timeout"`
	MaxNetworkErrors      int           `yaml:"max_network_errors"`
	PathDelayFilterLength int           `yaml:"path_delay_filter_length"` // median over this many last path delays, 0 disables
	CoarseThreshold       time.Duration `yaml:"coarse_threshold"`
	StaticOffset          time.Duration `yaml:"static_offset"`
	CorrelationWindow     int           `yaml:"correlation_window"`

	Lock servo.LockConfig `yaml:"lock"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	p, _ := profile.Get(profile.NameDefault)
	return &Config{
		Profile:            p,
		Priority1:          DefaultPriority,
		Priority2:          DefaultPriority,
		ClockClass:         DefaultClockClass,
		ClockAccuracy:      DefaultClockAccuracy,
		ClockVariance:      ptp.VarianceUnknown,
		TimeSource:         DefaultTimeSource,
		CurrentUTCOffset:   DefaultCurrentUTCOffset,
		TwoStep:            true,
		ListeningTimeout:   bmc.DefaultListeningTimeout,
		TxTimestampTimeout: DefaultTxTimestampTimeout,
		MaxNetworkErrors:   DefaultMaxNetworkErrors,
		CoarseThreshold:    DefaultCoarseThreshold,
		CorrelationWindow:  DefaultCorrelationWindow,
		Lock:               servo.DefaultLockConfig(),
	}
}

// Validate checks Config is sane
func (c *Config) Validate() error {
	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile %q: %w", c.Profile.Name, err)
	}
	if c.ForeignMasterThreshold < 0 {
		return fmt.Errorf("foreign_master_threshold must be 0 or positive")
	}
	if c.PreMasterGuard < 0 || c.ListeningTimeout < 0 {
		return fmt.Errorf("pre_master_guard and listening_timeout must be 0 or positive")
	}
	if c.FollowUpTimeout < 0 {
		return fmt.Errorf("follow_up_timeout must be 0 or positive")
	}
	if c.TxTimestampTimeout <= 0 {
		return fmt.Errorf("tx_timestamp_timeout must be greater than zero")
	}
	if c.MaxNetworkErrors <= 0 {
		return fmt.Errorf("max_network_errors must be greater than zero")
	}
	if c.PathDelayFilterLength < 0 {
		return fmt.Errorf("path_delay_filter_length must be 0 or positive")
	}
	if c.CoarseThreshold <= 0 {
		return fmt.Errorf("coarse_threshold must be greater than zero")
	}
	if c.CorrelationWindow < 1 {
		return fmt.Errorf("correlation_window must be at least 1")
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("invalid lock config: %w", err)
	}
	return nil
}

// ClockQuality of the local clock
func (c *Config) ClockQuality() ptp.ClockQuality {
	return ptp.ClockQuality{
		ClockClass:              c.ClockClass,
		ClockAccuracy:           c.ClockAccuracy,
		OffsetScaledLogVariance: c.ClockVariance,
	}
}

// LocalDataset describes the local clock the way an Announce would
func (c *Config) LocalDataset() bmc.Dataset {
	return bmc.Dataset{
		Priority1:           c.Priority1,
		ClockQuality:        c.ClockQuality(),
		Priority2:           c.Priority2,
		GrandmasterIdentity: c.Identity.ClockIdentity,
		TimeSource:          c.TimeSource,
		CurrentUTCOffset:    c.CurrentUTCOffset,
		Sender:              c.Identity,
		Receiver:            c.Identity,
	}
}

func (c *Config) bmcConfig() bmc.Config {
	return bmc.Config{
		Local:                   c.LocalDataset(),
		SlaveOnly:               c.Profile.SlaveOnly(),
		AnnounceInterval:        c.Profile.LogAnnounceInterval.Duration(),
		AnnounceReceiptTimeout:  c.Profile.AnnounceReceiptTimeout,
		ListeningTimeout:        c.ListeningTimeout,
		PreMasterGuard:          c.PreMasterGuard,
		ForeignMasterThreshold:  c.ForeignMasterThreshold,
		UncalibratedUntilOffset: c.UncalibratedUntilOffset,
	}
}

func (c *Config) syncInterval() time.Duration {
	return c.Profile.LogSyncInterval.Duration()
}

// delayReqInterval is the (p)delay request period. Sync matched mode follows the sync interval.
func (c *Config) delayReqInterval() time.Duration {
	if c.Profile.SyncMatched() {
		return c.syncInterval()
	}
	return c.Profile.LogDelayReqInterval.Duration()
}

func (c *Config) followUpTimeout(syncInterval time.Duration) time.Duration {
	if c.FollowUpTimeout > 0 {
		return c.FollowUpTimeout
	}
	return DefaultFollowUpSyncPeriods * syncInterval
}
