/*
SPDX-License-Identifier: Apache-2.0

Copyright 2025 ConfigButler

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

// Package metrics wires the binsync client's OpenTelemetry instruments to a
// dedicated Prometheus registry so a host application can expose them on
// its own /metrics endpoint without pulling in a shared global registry.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics bundles every instrument the client emits.
type Metrics struct {
	Registry *prometheus.Registry

	SchedulerJobsTotal      metric.Int64Counter
	SchedulerQueueDepth     metric.Int64UpDownCounter
	CacheHitsTotal          metric.Int64Counter
	CacheMissesTotal        metric.Int64Counter
	GitOperationsTotal      metric.Int64Counter
	GitOperationSeconds     metric.Float64Histogram
	LockWaitSeconds         metric.Float64Histogram
	HashMismatchWarnings    metric.Int64Counter
}

// New creates a fresh Prometheus registry, bridges it into an OTel meter
// provider, and instantiates every client instrument against it.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("binsync")

	m := &Metrics{Registry: registry}

	if m.SchedulerJobsTotal, err = meter.Int64Counter(
		"binsync_scheduler_jobs_total",
		metric.WithDescription("jobs run by the client scheduler, by priority"),
	); err != nil {
		return nil, err
	}
	if m.SchedulerQueueDepth, err = meter.Int64UpDownCounter(
		"binsync_scheduler_queue_depth",
		metric.WithDescription("jobs currently waiting on the scheduler"),
	); err != nil {
		return nil, err
	}
	if m.CacheHitsTotal, err = meter.Int64Counter(
		"binsync_cache_hits_total",
		metric.WithDescription("state and users cache hits"),
	); err != nil {
		return nil, err
	}
	if m.CacheMissesTotal, err = meter.Int64Counter(
		"binsync_cache_misses_total",
		metric.WithDescription("state and users cache misses"),
	); err != nil {
		return nil, err
	}
	if m.GitOperationsTotal, err = meter.Int64Counter(
		"binsync_git_operations_total",
		metric.WithDescription("git operations attempted, by kind and outcome"),
	); err != nil {
		return nil, err
	}
	if m.GitOperationSeconds, err = meter.Float64Histogram(
		"binsync_git_operation_seconds",
		metric.WithDescription("duration of git operations, by kind"),
	); err != nil {
		return nil, err
	}
	if m.LockWaitSeconds, err = meter.Float64Histogram(
		"binsync_lock_wait_seconds",
		metric.WithDescription("time spent waiting to acquire the repository lock"),
	); err != nil {
		return nil, err
	}
	if m.HashMismatchWarnings, err = meter.Int64Counter(
		"binsync_hash_mismatch_warnings_total",
		metric.WithDescription("HASH_MISMATCH connection warnings observed"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Shutdown is a no-op placeholder kept symmetrical with New for callers
// that defer a shutdown unconditionally; the Prometheus pull exporter has
// no background goroutine to stop.
func Shutdown(_ context.Context) error { return nil }
