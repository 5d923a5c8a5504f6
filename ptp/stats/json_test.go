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

package stats

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONStatsCounters(t *testing.T) {
	s := NewJSONStats()
	s.UpdateCounterBy("rx.announce", 3)
	s.AddSample("offset_ns", 40)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	counters, err := FetchCounters(srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(3), counters["rx.announce"])
	require.Equal(t, int64(40), counters["offset_ns.mean"])
	require.Equal(t, int64(1), counters["offset_ns.count"])
}

func TestJSONStatsRoot(t *testing.T) {
	s := NewJSONStats()
	s.SetStat(&Stat{
		PortIdentity: "001122.3344.556677-1",
		State:        "MASTER",
		Offset:       -5,
		Peer:         &PeerStat{Compliance: "CANDIDATE", Reports: 1},
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	raw := map[string]any{}
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Equal(t, "MASTER", raw["state"])
	require.Equal(t, float64(-5), raw["offset_ns"])
	require.NotContains(t, raw, "parent")

	stat, err := FetchStat(srv.URL)
	require.NoError(t, err)
	require.Equal(t, s.GetStat(), *stat)
}

func TestFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := FetchCounters(srv.URL)
	require.Error(t, err)
	_, err = FetchStat(srv.URL)
	require.Error(t, err)
}

func TestCollectSysStats(t *testing.T) {
	s := NewJSONStats()
	require.NoError(t, s.CollectSysStats(1e9))
	c := s.GetCounters()
	require.Contains(t, c, "runtime.goroutines")
	require.Contains(t, c, "process.uptime")
}
