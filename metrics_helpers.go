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

package binsync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/binsync/engine/internal/scheduler"
)

// priorityLabel names a scheduler.Priority for metric attributes.
func priorityLabel(p scheduler.Priority) string {
	switch p {
	case scheduler.FAST:
		return "fast"
	case scheduler.AVERAGE:
		return "average"
	default:
		return "slow"
	}
}

// scheduleAndObserve wraps scheduler.ScheduleAndWait with queue-depth and
// job-count instrumentation, keeping the scheduler package itself free of
// any opinion about metrics.
func scheduleAndObserve[T any](c *Client, priority scheduler.Priority, fn func() (T, error)) (T, error) {
	if c.cfg.Metrics == nil {
		return scheduler.ScheduleAndWait(c.sched, priority, fn)
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("priority", priorityLabel(priority)))
	c.cfg.Metrics.SchedulerQueueDepth.Add(ctx, 1, attrs)
	defer c.cfg.Metrics.SchedulerQueueDepth.Add(ctx, -1, attrs)

	result, err := scheduler.ScheduleAndWait(c.sched, priority, fn)
	c.cfg.Metrics.SchedulerJobsTotal.Add(ctx, 1, attrs)
	return result, err
}

// observeGit times fn and, if the client has metrics configured, records
// its duration and outcome under the given operation kind ("commit",
// "pull", "push"). Metrics are optional: a nil Metrics makes this exactly
// equivalent to calling fn directly.
func (c *Client) observeGit(ctx context.Context, kind string, fn func() error) error {
	if c.cfg.Metrics == nil {
		return fn()
	}

	start := time.Now()
	err := fn()
	elapsed := time.Since(start).Seconds()

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", kind),
		attribute.String("outcome", outcome),
	)
	c.cfg.Metrics.GitOperationsTotal.Add(ctx, 1, attrs)
	c.cfg.Metrics.GitOperationSeconds.Record(ctx, elapsed, metric.WithAttributes(attribute.String("operation", kind)))
	return err
}
