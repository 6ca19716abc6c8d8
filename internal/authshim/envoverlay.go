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
	"os"
	"sync"
)

// envMu serializes process-environment mutation across every scoped
// overlay in the process: os.Setenv is process-global, so two goroutines
// racing to overlay SSH_AUTH_SOCK would corrupt each other's view.
var envMu sync.Mutex

// WithEnv temporarily overlays the given environment variables for the
// duration of fn, restoring the previous values (or unsetting the
// variable if it wasn't previously set) before returning. This mirrors the
// binsync client's scoped ssh_agent_env context manager, which borrows the
// process environment just long enough for a single git subprocess call.
func WithEnv(overlay map[string]string, fn func() error) error {
	envMu.Lock()
	defer envMu.Unlock()

	type saved struct {
		value string
		set   bool
	}
	prev := make(map[string]saved, len(overlay))
	for k, v := range overlay {
		old, ok := os.LookupEnv(k)
		prev[k] = saved{value: old, set: ok}
		os.Setenv(k, v)
	}
	defer func() {
		for k, s := range prev {
			if s.set {
				os.Setenv(k, s.value)
			} else {
				os.Unsetenv(k)
			}
		}
	}()

	return fn()
}
