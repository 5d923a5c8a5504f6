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

import "errors"

// Errors reported through Observer.Error and returned by the port.
// Callers match them with errors.Is.
var (
	ErrDecode           = errors.New("malformed message")
	ErrSequenceMismatch = errors.New("sequence id mismatch")
	ErrExchangeTimeout  = errors.New("exchange timed out")
	ErrNoMaster         = errors.New("message not from current master")
	ErrReplay           = errors.New("stale sequence id")
	ErrHardwareClock    = errors.New("hardware clock failure")
	ErrNetwork          = errors.New("network failure")
)
