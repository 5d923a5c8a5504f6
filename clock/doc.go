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
Package clock drives the clocks a port disciplines.

Adjtimex exposes clock_adjtime(2) helpers for any clock id: reading and
setting frequency in PPB, stepping and marking the clock synchronized.
On top of them System (CLOCK_REALTIME) and PHC (/dev/ptpN) implement the
port clock interface, and FreeRunning is a software clock that records
corrections without touching hardware.
*/
package clock
