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

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllInstruments(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotNil(t, m.Registry)

	m.SchedulerJobsTotal.Add(context.Background(), 1)
	m.CacheHitsTotal.Add(context.Background(), 1)
	m.GitOperationSeconds.Record(context.Background(), 0.5)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestShutdown_Noop(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}
