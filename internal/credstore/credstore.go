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

// Package credstore optionally remembers the last SSH auth socket that
// worked for a given repository, in the OS keychain, so a long-running
// host application doesn't have to re-discover or re-prompt for an agent
// on every restart. A keychain miss or an unsupported platform is never
// fatal: callers always fall back to fresh discovery.
package credstore

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const service = "binsync"

// Store remembers auth hints under a per-repository keychain account.
type Store struct {
	account string
}

// New creates a Store scoped to repoDir, used as the keychain account name
// so multiple repositories on the same machine don't collide.
func New(repoDir string) *Store {
	return &Store{account: repoDir}
}

// SSHAuthSock returns the last-remembered SSH_AUTH_SOCK for this
// repository, or "" if none is stored or the keychain is unavailable.
func (s *Store) SSHAuthSock() string {
	v, err := keyring.Get(service, s.account)
	if err != nil {
		return ""
	}
	return v
}

// RememberSSHAuthSock stores sock for future lookups. A failure to write
// (e.g. no keychain backend on this platform) is returned but is safe for
// callers to ignore, since discovery always has a working fallback.
func (s *Store) RememberSSHAuthSock(sock string) error {
	if err := keyring.Set(service, s.account, sock); err != nil {
		return fmt.Errorf("credstore: store SSH_AUTH_SOCK hint: %w", err)
	}
	return nil
}

// Forget removes any remembered hint for this repository.
func (s *Store) Forget() error {
	if err := keyring.Delete(service, s.account); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("credstore: forget SSH_AUTH_SOCK hint: %w", err)
	}
	return nil
}
