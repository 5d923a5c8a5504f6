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

package profile

import (
	"sort"

	ptp "github.com/flexptp/ptpengine/ptp/protocol"
)

// TLV set names
const (
	TLVSetGPTP = "gptp"
)

type tlvElement struct {
	msgType ptp.MessageType
	build   func() ptp.TLV
}

var tlvSets = map[string][]tlvElement{
	TLVSetGPTP: {
		{msgType: ptp.MessageFollowUp, build: func() ptp.TLV { return ptp.NewFollowUpInformationTLV() }},
	},
}

// TLVs returns fresh TLVs of the set to be attached to messages of type mt.
// Empty or unknown set gives nothing.
func TLVs(set string, mt ptp.MessageType) []ptp.TLV {
	var res []ptp.TLV
	for _, e := range tlvSets[set] {
		if e.msgType == mt {
			res = append(res, e.build())
		}
	}
	return res
}

// TLVSets returns sorted names of TLV sets
func TLVSets() []string {
	names := make([]string, 0, len(tlvSets))
	for n := range tlvSets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
