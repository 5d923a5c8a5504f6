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

package clock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/flexptp/ptpengine/servo"
)

// IfaceToPHCDevice returns path to PHC device associated with given network card iface
func IfaceToPHCDevice(iface string) (string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return "", fmt.Errorf("failed to create socket for ioctl: %w", err)
	}
	defer unix.Close(fd)
	info, err := unix.IoctlGetEthtoolTsInfo(fd, iface)
	if err != nil {
		return "", fmt.Errorf("getting interface %s info: %w", iface, err)
	}
	if info.Phc_index < 0 {
		return "", fmt.Errorf("%s: no PHC support", iface)
	}
	return fmt.Sprintf("/dev/ptp%d", info.Phc_index), nil
}

// FDToClockID converts an open PHC device fd into a dynamic clock id, see clock_getres(2)
func FDToClockID(fd uintptr) int32 {
	return int32((int(^fd) << 3) | 3)
}

// PHC is a PTP hardware clock exposed as /dev/ptpN
type PHC struct {
	dev *os.File
	a   *adjuster
}

// OpenPHC opens the PHC device for read/write
func OpenPHC(device string) (*PHC, error) {
	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", device, err)
	}
	a, err := newAdjuster(FDToClockID(f.Fd()), true)
	if err != nil {
		f.Close()
		return nil, err
	}
	caps, err := unix.IoctlPtpClockGetcaps(int(f.Fd()))
	if err == nil && caps.Max_adj > 0 {
		a.maxFreq = float64(caps.Max_adj)
	}
	return &PHC{dev: f, a: a}, nil
}

// OpenIfacePHC opens the PHC of the network interface
func OpenIfacePHC(iface string) (*PHC, error) {
	device, err := IfaceToPHCDevice(iface)
	if err != nil {
		return nil, err
	}
	return OpenPHC(device)
}

// Device returns device path
func (p *PHC) Device() string {
	return p.dev.Name()
}

// Now reads PHC time
func (p *PHC) Now() (time.Time, error) {
	return p.a.now()
}

// Apply implements port.Clock
func (p *PHC) Apply(c servo.Correction) error {
	return p.a.apply(c)
}

// FrequencyPPB returns current frequency correction
func (p *PHC) FrequencyPPB() (float64, error) {
	return FrequencyPPB(p.a.id)
}

// MaxFreqPPB returns the largest correction Apply will set
func (p *PHC) MaxFreqPPB() float64 {
	return p.a.maxFreq
}

// SetSync marks the clock as synchronized
func (p *PHC) SetSync() error {
	return SetSync(p.a.id)
}

// Close closes the device
func (p *PHC) Close() error {
	return p.dev.Close()
}
