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

	"github.com/go-git/go-git/v5/plumbing"
)

// cacheOp tags which cache, if any, a call should consult. The original
// client dispatched on the wrapped method's qualified name via a
// decorator; Go has no such reflection hook, so each call site names its
// own cache explicitly via cacheOp instead, with cacheKey carrying the
// lookup parameters.
type cacheOp int

const (
	opNone cacheOp = iota
	opGetState
)

// cacheKey carries whichever of its fields cacheOp needs: (user, version)
// for opGetState, nothing for opNone.
type cacheKey struct {
	user    string
	version plumbing.Hash
}

// withCache checks the cache named by op on the caller's thread, returning
// a hit immediately without ever touching the scheduler. On a miss it runs
// fn (which callers use to schedule the underlying job) and installs the
// result before returning it. Every cacheable read routes through this
// single combinator so the cache-before-schedule ordering lives in one
// place instead of being reimplemented per call site. get_state's key is
// knowable without any repository access, so it fits this shape directly;
// users() cannot (its cache key is the branch-name set, which can only be
// learned by reading the repository) and so consults usersCache directly
// instead — see Users in state_ops.go.
func withCache[T any](c *Client, op cacheOp, key cacheKey, fn func() (T, error)) (T, error) {
	var zero T

	switch op {
	case opGetState:
		if v, ok := c.stateCache.Get(key.user, key.version); ok {
			if typed, ok := v.(T); ok {
				c.recordCache(true)
				return typed, nil
			}
		}
		c.recordCache(false)
		result, err := fn()
		if err != nil {
			return zero, err
		}
		c.stateCache.Put(key.user, key.version, result)
		return result, nil

	default:
		return fn()
	}
}

// recordCache emits a cache hit/miss count if the client has metrics
// configured. Metrics are entirely optional: a nil Metrics is a silent
// no-op rather than requiring every caller to check first.
func (c *Client) recordCache(hit bool) {
	if c.cfg.Metrics == nil {
		return
	}
	ctx := context.Background()
	if hit {
		c.cfg.Metrics.CacheHitsTotal.Add(ctx, 1)
	} else {
		c.cfg.Metrics.CacheMissesTotal.Add(ctx, 1)
	}
}
