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

package daemon

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/flexptp/ptpengine/ptp/port"
	"github.com/flexptp/ptpengine/ptp/profile"
	"github.com/flexptp/ptpengine/servo"
	"github.com/flexptp/ptpengine/transport"
)

// Clock kinds
const (
	ClockPHC     = "phc"
	ClockSystem  = "system"
	ClockFreeRun = "freerun"
)

// Config specifies daemon run options
type Config struct {
	Iface           string                 `yaml:"iface"`
	Timestamping    transport.Timestamping `yaml:"timestamping"`
	DSCP            int                    `yaml:"dscp"`
	Clock           string                 `yaml:"clock"`
	AllowSystemStep bool                   `yaml:"allow_system_step"`
	ProfileName     string                 `yaml:"profile"`
	Servo           servo.Kind             `yaml:"servo"`
	MonitoringPort  int                    `yaml:"monitoring_port"`
	StatsInterval   time.Duration          `yaml:"stats_interval"`
	LogLevel        string                 `yaml:"log_level"`

	Port        *port.Config  `yaml:"port"`
	ServoConfig *servo.Config `yaml:"servo_config"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Iface:          "eth0",
		Timestamping:   transport.TimestampingHardware,
		Clock:          ClockPHC,
		ProfileName:    profile.NameDefault,
		Servo:          servo.KindPID,
		MonitoringPort: 4270,
		StatsInterval:  time.Second,
		LogLevel:       "info",
		Port:           port.DefaultConfig(),
		ServoConfig:    servo.DefaultConfig(),
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Iface == "" {
		return fmt.Errorf("iface must be specified")
	}
	if _, err := transport.ParseTimestamping(string(c.Timestamping)); err != nil {
		return err
	}
	switch c.Clock {
	case ClockPHC:
		if c.Timestamping != transport.TimestampingHardware {
			return fmt.Errorf("clock %q needs %q timestamping", ClockPHC, transport.TimestampingHardware)
		}
	case ClockSystem, ClockFreeRun:
		if c.Timestamping != transport.TimestampingSoftware {
			return fmt.Errorf("clock %q needs %q timestamping", c.Clock, transport.TimestampingSoftware)
		}
	default:
		return fmt.Errorf("clock must be either %q, %q or %q", ClockPHC, ClockSystem, ClockFreeRun)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp must be between 0 and 63")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must be 0 or positive")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("stats_interval must be greater than zero")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := servo.ParseKind(string(c.Servo)); err != nil {
		return err
	}
	if c.Port == nil || c.ServoConfig == nil {
		return fmt.Errorf("port and servo_config sections must not be empty")
	}
	if err := c.Port.Validate(); err != nil {
		return fmt.Errorf("invalid port config: %w", err)
	}
	if err := c.ServoConfig.Validate(); err != nil {
		return fmt.Errorf("invalid servo config: %w", err)
	}
	return nil
}

// TransportConfig returns transport options
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{Iface: c.Iface, Timestamping: c.Timestamping, DSCP: c.DSCP}
}

// setProfile loads the named preset into the port config
func (c *Config) setProfile(name string) error {
	p, err := profile.Get(name)
	if err != nil {
		return err
	}
	c.ProfileName = name
	c.Port.Profile = p
	return nil
}

// ParseConfig parses yaml on top of defaults.
// The named profile is loaded first so port.profile keys override single preset fields.
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	named := struct {
		ProfileName string `yaml:"profile"`
	}{}
	if err := yaml.Unmarshal(data, &named); err != nil {
		return nil, err
	}
	if named.ProfileName != "" {
		if err := c.setProfile(named.ProfileName); err != nil {
			return nil, err
		}
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// Flags are CLI values that override the config file
type Flags struct {
	Iface          string
	Profile        string
	Timestamping   string
	Clock          string
	Servo          string
	MonitoringPort int
	LogLevel       string
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, f Flags, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["iface"] {
		warn("iface")
		cfg.Iface = f.Iface
	}
	if setFlags["profile"] {
		warn("profile")
		if err := cfg.setProfile(f.Profile); err != nil {
			return nil, err
		}
	}
	if setFlags["timestamping"] {
		warn("timestamping")
		cfg.Timestamping = transport.Timestamping(f.Timestamping)
	}
	if setFlags["clock"] {
		warn("clock")
		cfg.Clock = f.Clock
	}
	if setFlags["servo"] {
		warn("servo")
		cfg.Servo = servo.Kind(f.Servo)
	}
	if setFlags["monitoringport"] {
		warn("monitoringport")
		cfg.MonitoringPort = f.MonitoringPort
	}
	if setFlags["loglevel"] {
		warn("loglevel")
		cfg.LogLevel = f.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
