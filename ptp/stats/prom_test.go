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
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "rx_delay_req", flattenKey("rx.delay_req"))
	require.Equal(t, "a_b_c_d_e_f", flattenKey("a.b-c d=e/f"))
}

func TestPrometheusExporterCollect(t *testing.T) {
	s := NewStats()
	s.SetCounter("rx.sync", 12)
	s.SetCounter("state", 9)
	e := NewPrometheusExporter(s)

	require.Equal(t, 2, testutil.CollectAndCount(e))
	n, err := testutil.GatherAndCount(e.registry, "ptpengine_rx_sync")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPrometheusExporterHandler(t *testing.T) {
	s := NewStats()
	s.SetCounter("rx.sync", 12)
	e := NewPrometheusExporter(s)

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "ptpengine_rx_sync 12")
}
