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

// Package cache holds the two read caches the client keeps in front of the
// repository: parsed per-user State snapshots, and the set of known users.
// Both are invalidated by branch-head movement rather than by a timer.
package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
)

// stateKey identifies a cached State: the user it belongs to, and either
// the zero hash (live lookup) or a specific historical commit (version
// lookup). Historical versions never go stale, so they're cached under
// their own hash and only dropped by InvalidateUser or Clear.
type stateKey struct {
	user    string
	version plumbing.Hash
}

// StateCache holds parsed per-user State values, keyed by (user, version).
// Callers use the zero hash as the version for a "live" (current-tree)
// lookup; since that key never changes, a fresh commit or pull is made
// visible by explicitly calling InvalidateLive rather than by the cache
// noticing the underlying branch head moved on its own.
type StateCache struct {
	mu      sync.RWMutex
	entries map[stateKey]any
}

// NewStateCache creates an empty StateCache.
func NewStateCache() *StateCache {
	return &StateCache{entries: make(map[stateKey]any)}
}

// Get returns the cached State for user at the given version, if present.
// version is the zero hash for a "live" lookup.
func (c *StateCache) Get(user string, version plumbing.Hash) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[stateKey{user: user, version: version}]
	return v, ok
}

// Put stores state for user at the given version.
func (c *StateCache) Put(user string, version plumbing.Hash, state any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[stateKey{user: user, version: version}] = state
}

// InvalidateLive drops the cached live-lookup entry for a user, forcing
// the next live Get to miss. Call this whenever the user's branch head
// moves (commit, pull, or a push that updates the local ref).
func (c *StateCache) InvalidateLive(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, stateKey{user: user, version: plumbing.ZeroHash})
}

// InvalidateUser drops every cached entry (live and historical) for a user.
func (c *StateCache) InvalidateUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.user == user {
			delete(c.entries, k)
		}
	}
}

// Clear drops every cached entry for every user.
func (c *StateCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[stateKey]any)
}

// UsersCache holds the set of known binsync users, invalidated whenever the
// set of binsync/* branch names observed in the repository changes. The
// cache key is the sorted, joined branch-name set itself, so a single
// branch being created or deleted is enough to produce a fresh key and
// naturally miss.
type UsersCache struct {
	mu      sync.RWMutex
	key     string
	present bool
	value   any
}

// NewUsersCache creates an empty UsersCache.
func NewUsersCache() *UsersCache {
	return &UsersCache{}
}

// BranchSetKey canonicalizes a set of branch names into a cache key.
func BranchSetKey(branches []string) string {
	sorted := append([]string(nil), branches...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// Peek returns the cached users value, if any, without requiring the
// caller to already know the current branch-name set. This is what lets a
// Users() call consult the cache on the caller's thread, before scheduling
// a job to list branches — the branch listing itself is only needed to
// populate the cache on a miss, never to check it.
func (c *UsersCache) Peek() (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.present {
		return nil, false
	}
	return c.value, true
}

// Get returns the cached users value if branches matches the set the cache
// was last populated with.
func (c *UsersCache) Get(branches []string) (any, bool) {
	key := BranchSetKey(branches)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.present || c.key != key {
		return nil, false
	}
	return c.value, true
}

// Put caches value under the branch set's key.
func (c *UsersCache) Put(branches []string, value any) {
	key := BranchSetKey(branches)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.value = value
	c.present = true
}

// Clear drops the cached users value unconditionally.
func (c *UsersCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present = false
	c.value = nil
	c.key = ""
}
