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
Package hostendian tells the byte order of the machine and converts
values the kernel expects in network order, like AF_PACKET protocols.
*/
package hostendian

import (
	"encoding/binary"
	"unsafe"
)

// Order of the bytes
var Order binary.ByteOrder = binary.LittleEndian

// IsBigEndian is a flag determining if value is in Big Endian
var IsBigEndian bool

func init() {
	var i uint16 = 0x0100
	if *(*byte)(unsafe.Pointer(&i)) == 0x01 {
		IsBigEndian = true
		Order = binary.BigEndian
	}
}

// Htons converts v from host to network byte order
func Htons(v uint16) uint16 {
	if IsBigEndian {
		return v
	}
	return v<<8 | v>>8
}
