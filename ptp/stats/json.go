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
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	contentType     = "Content-Type"
	applicationJSON = "application/json"
)

// JSONStats is what we want to report as stats via http
type JSONStats struct {
	*Stats
	sys  SysStats
	prom *PrometheusExporter
}

// NewJSONStats returns a new JSONStats
func NewJSONStats() *JSONStats {
	s := NewStats()
	return &JSONStats{Stats: s, prom: NewPrometheusExporter(s)}
}

// CollectSysStats stores process and runtime metrics as counters
func (s *JSONStats) CollectSysStats(interval time.Duration) error {
	sys, err := s.sys.CollectRuntimeStats(interval)
	if err != nil {
		return err
	}
	for k, v := range sys {
		s.SetCounter(k, int64(v))
	}
	return nil
}

// Handler serves the port snapshot on /, counters on /counters and Prometheus metrics on /metrics
func (s *JSONStats) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRootRequest)
	mux.HandleFunc("/counters", s.handleCountersRequest)
	mux.Handle("/metrics", s.prom.Handler())
	return mux
}

// Start runs http server and collects sys stats every interval. It blocks.
func (s *JSONStats) Start(monitoringport int, interval time.Duration) error {
	// collect stats forever
	go func() {
		for range time.Tick(interval) {
			if err := s.CollectSysStats(interval); err != nil {
				log.Warningf("failed to get system metrics %s", err)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", monitoringport)
	log.Infof("Starting http json server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func writeJSON(w http.ResponseWriter, v any) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(contentType, applicationJSON)
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// handleRootRequest replies with the port snapshot
func (s *JSONStats) handleRootRequest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.GetStat())
}

// handleCountersRequest replies with all counters
func (s *JSONStats) handleCountersRequest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.GetCounters())
}

func fetch(url string, v any) error {
	c := http.Client{
		Timeout: time.Second * 2,
	}
	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s replied %s", url, resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// FetchStat returns the port snapshot fetched from the url
func FetchStat(url string) (*Stat, error) {
	s := &Stat{}
	if err := fetch(url, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FetchCounters returns counters map fetched from the url
func FetchCounters(url string) (map[string]int64, error) {
	counters := map[string]int64{}
	err := fetch(fmt.Sprintf("%s/counters", url), &counters)
	return counters, err
}
