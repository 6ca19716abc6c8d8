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

package authshim

import (
	"errors"
	"os"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAuth_NilWhenEmpty(t *testing.T) {
	assert.Nil(t, HTTPAuth("", ""))
	assert.NotNil(t, HTTPAuth("alice", "token"))
}

func TestSSHKeyAuth_RejectsEmptyKey(t *testing.T) {
	_, err := SSHKeyAuth(logr.Discard(), "", "", "")
	assert.Error(t, err)
}

func TestWithEnv_RestoresPreviousValue(t *testing.T) {
	require.NoError(t, os.Setenv("BINSYNC_TEST_VAR", "original"))
	defer os.Unsetenv("BINSYNC_TEST_VAR")

	err := WithEnv(map[string]string{"BINSYNC_TEST_VAR": "overlaid"}, func() error {
		assert.Equal(t, "overlaid", os.Getenv("BINSYNC_TEST_VAR"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "original", os.Getenv("BINSYNC_TEST_VAR"))
}

func TestWithEnv_UnsetsVariableThatWasNotPreviouslySet(t *testing.T) {
	os.Unsetenv("BINSYNC_TEST_VAR_UNSET")

	err := WithEnv(map[string]string{"BINSYNC_TEST_VAR_UNSET": "temp"}, func() error {
		assert.Equal(t, "temp", os.Getenv("BINSYNC_TEST_VAR_UNSET"))
		return nil
	})
	require.NoError(t, err)

	_, ok := os.LookupEnv("BINSYNC_TEST_VAR_UNSET")
	assert.False(t, ok)
}

func TestWithEnv_RestoresEvenOnError(t *testing.T) {
	os.Setenv("BINSYNC_TEST_VAR", "original")
	defer os.Unsetenv("BINSYNC_TEST_VAR")

	boom := errors.New("boom")
	err := WithEnv(map[string]string{"BINSYNC_TEST_VAR": "overlaid"}, func() error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "original", os.Getenv("BINSYNC_TEST_VAR"))
}
