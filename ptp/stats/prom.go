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
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricPrefix is prepended to every exported metric name
const MetricPrefix = "ptpengine_"

// PrometheusExporter exposes Stats counters as Prometheus gauges
type PrometheusExporter struct {
	stats    *Stats
	registry *prometheus.Registry
}

// NewPrometheusExporter creates a new instance of PrometheusExporter
func NewPrometheusExporter(s *Stats) *PrometheusExporter {
	e := &PrometheusExporter{stats: s, registry: prometheus.NewRegistry()}
	e.registry.MustRegister(e)
	return e
}

// Handler serves the private registry
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,
		},
	)
}

// Describe implements prometheus.Collector. Counter set is dynamic so nothing is described upfront.
func (e *PrometheusExporter) Describe(_ chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector
func (e *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	for key, val := range e.stats.GetCounters() {
		desc := prometheus.NewDesc(MetricPrefix+flattenKey(key), key, nil, nil)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(val))
	}
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}
