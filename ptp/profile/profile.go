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

/*
Package profile holds PTP profile presets: transport, delay mechanism,
message intervals, flags and TLV chains attached to outgoing messages.
*/
package profile

import (
	"fmt"
	"sort"
	"strings"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// Transport is the layer PTP messages travel over
type Transport uint8

// Supported transports
const (
	TransportIPv4 Transport = iota
	Transport8023
)

var transportToString = map[Transport]string{
	TransportIPv4: "IPv4",
	Transport8023: "802.3",
}

func (t Transport) String() string {
	if s, ok := transportToString[t]; ok {
		return s
	}
	return fmt.Sprintf("Transport(%d)", uint8(t))
}

// ParseTransport parses transport name, case insensitive
func ParseTransport(s string) (Transport, error) {
	for t, name := range transportToString {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

// UnmarshalYAML reads transport by name
func (t *Transport) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseTransport(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalYAML writes transport name
func (t Transport) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// DelayMechanism is the way path delay is measured
type DelayMechanism uint8

// Delay mechanisms
const (
	E2E DelayMechanism = iota
	P2P
)

func (d DelayMechanism) String() string {
	switch d {
	case E2E:
		return "E2E"
	case P2P:
		return "P2P"
	}
	return fmt.Sprintf("DelayMechanism(%d)", uint8(d))
}

// UnmarshalYAML reads delay mechanism by name
func (d *DelayMechanism) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch strings.ToUpper(s) {
	case "E2E":
		*d = E2E
	case "P2P":
		*d = P2P
	default:
		return fmt.Errorf("unknown delay mechanism %q", s)
	}
	return nil
}

// MarshalYAML writes delay mechanism name
func (d DelayMechanism) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// majorSdoId values
const (
	TransportSpecificDefault uint8 = 0
	TransportSpecificGPTP    uint8 = 1
)

// Flags alter engine behaviour
type Flags uint8

// Profile flags
const (
	// FlagIssueSyncForCompliantSlaveOnly makes master send Sync only after the peer proved compliant in P2P mode
	FlagIssueSyncForCompliantSlaveOnly Flags = 1 << 0
	// FlagSlaveOnly never lets the port become master
	FlagSlaveOnly Flags = 1 << 1
)

// AllFlags lists every known flag
var AllFlags = []Flags{FlagIssueSyncForCompliantSlaveOnly, FlagSlaveOnly}

var flagHints = map[Flags]string{
	FlagIssueSyncForCompliantSlaveOnly: "Sync (and Follow_Up) messages will only be issued if the peer slave proves compliant",
	FlagSlaveOnly:                      "This node is SLAVE-ONLY",
}

// Has reports whether all of flags in m are set
func (f Flags) Has(m Flags) bool {
	return f&m == m
}

// Hint returns human readable description of a single flag
func (f Flags) Hint() string {
	return flagHints[f]
}

func (f Flags) String() string {
	return fmt.Sprintf("0x%X", uint8(f))
}

// Profile describes how the engine talks PTP
type Profile struct {
	Name                   string          `yaml:"name"`
	Transport              Transport       `yaml:"transport"`
	TransportSpecific      uint8           `yaml:"transport_specific"`
	DelayMechanism         DelayMechanism  `yaml:"delay_mechanism"`
	LogDelayReqInterval    ptp.LogInterval `yaml:"log_delay_req_interval"`
	LogSyncInterval        ptp.LogInterval `yaml:"log_sync_interval"`
	LogAnnounceInterval    ptp.LogInterval `yaml:"log_announce_interval"`
	AnnounceReceiptTimeout int             `yaml:"announce_receipt_timeout"`
	DomainNumber           uint8           `yaml:"domain_number"`
	Flags                  Flags           `yaml:"flags"`
	TLVSet                 string          `yaml:"tlv_set"`
}

// Profile names
const (
	NameDefault = "default"
	NameGPTP    = "gPTP"
	NameDefP2P  = "defp2p"
)

var presets = map[string]Profile{
	NameDefault: {
		Name:                   NameDefault,
		Transport:              TransportIPv4,
		TransportSpecific:      TransportSpecificDefault,
		DelayMechanism:         E2E,
		LogDelayReqInterval:    0,
		LogSyncInterval:        0,
		LogAnnounceInterval:    1,
		AnnounceReceiptTimeout: 3,
		DomainNumber:           0,
	},
	NameGPTP: {
		Name:                   NameGPTP,
		Transport:              Transport8023,
		TransportSpecific:      TransportSpecificGPTP,
		DelayMechanism:         P2P,
		LogDelayReqInterval:    0,
		LogSyncInterval:        -3,
		LogAnnounceInterval:    0,
		AnnounceReceiptTimeout: 3,
		DomainNumber:           0,
		Flags:                  FlagIssueSyncForCompliantSlaveOnly,
		TLVSet:                 TLVSetGPTP,
	},
	NameDefP2P: {
		Name:                   NameDefP2P,
		Transport:              TransportIPv4,
		TransportSpecific:      TransportSpecificDefault,
		DelayMechanism:         P2P,
		LogDelayReqInterval:    0,
		LogSyncInterval:        0,
		LogAnnounceInterval:    1,
		AnnounceReceiptTimeout: 3,
		DomainNumber:           0,
	},
}

// Get returns a copy of the named preset
func Get(name string) (Profile, error) {
	p, ok := presets[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q, available: %s", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names returns sorted names of all presets
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SyncMatched reports whether one delay request is sent per received Sync
func (p *Profile) SyncMatched() bool {
	return p.LogDelayReqInterval == ptp.LogIntervalSyncMatched
}

// SlaveOnly reports whether master operation is disabled
func (p *Profile) SlaveOnly() bool {
	return p.Flags.Has(FlagSlaveOnly)
}

func validLogInterval(i ptp.LogInterval) bool {
	return i >= -7 && i <= 6
}

// Validate checks the profile is usable
func (p *Profile) Validate() error {
	if _, ok := transportToString[p.Transport]; !ok {
		return fmt.Errorf("unsupported transport %s", p.Transport)
	}
	if p.DelayMechanism != E2E && p.DelayMechanism != P2P {
		return fmt.Errorf("unsupported delay mechanism %s", p.DelayMechanism)
	}
	if p.TransportSpecific > 0xf {
		return fmt.Errorf("transport_specific %d doesn't fit 4 bits", p.TransportSpecific)
	}
	if !validLogInterval(p.LogSyncInterval) {
		return fmt.Errorf("log_sync_interval %d is out of range", p.LogSyncInterval)
	}
	if !validLogInterval(p.LogAnnounceInterval) {
		return fmt.Errorf("log_announce_interval %d is out of range", p.LogAnnounceInterval)
	}
	if !p.SyncMatched() && !validLogInterval(p.LogDelayReqInterval) {
		return fmt.Errorf("log_delay_req_interval %d is out of range", p.LogDelayReqInterval)
	}
	if p.SyncMatched() && p.DelayMechanism == P2P {
		return fmt.Errorf("sync matched delay requests are only supported with E2E")
	}
	if p.AnnounceReceiptTimeout < 2 {
		return fmt.Errorf("announce_receipt_timeout must be at least 2, got %d", p.AnnounceReceiptTimeout)
	}
	if p.TLVSet != "" {
		if _, ok := tlvSets[p.TLVSet]; !ok {
			return fmt.Errorf("unknown tlv_set %q", p.TLVSet)
		}
	}
	return nil
}
