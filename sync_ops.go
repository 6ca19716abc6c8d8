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
	"errors"
	"time"

	"github.com/binsync/engine/internal/gitrepo"
	"github.com/binsync/engine/internal/scheduler"
)

// Pull fetches from the configured remote and fast-forwards every local
// binsync branch (the root branch and every user branch, including ones
// belonging to other analysts) to its remote-tracking counterpart. A
// branch that has diverged from its remote counterpart is left untouched
// and logged rather than merged or overwritten — see FastForward's
// ErrNonFastForward policy. A transient fetch failure is logged and
// swallowed rather than returned: the engine relies on the next update
// cycle to retry, so the timestamp simply doesn't advance. Returns
// ErrNoRemote if no remote is configured.
func (c *Client) Pull(ctx context.Context) error {
	has, err := c.HasRemote(ctx)
	if err != nil {
		return err
	}
	if !has {
		return ErrNoRemote
	}

	fetched, err := scheduleAndObserve(c, scheduler.SLOW, func() (bool, error) {
		fetchErr := c.observeGit(ctx, "pull", func() error {
			return c.repo.FetchAll(ctx, c.cfg.RemoteName, c.cfg.Auth)
		})
		if fetchErr != nil {
			c.log.V(1).Info("pull fetch failed, will retry on next update cycle", "error", fetchErr.Error())
		}

		if err := c.repo.LocalizeRemoteBranches(ctx, c.cfg.RemoteName, c.cfg.Auth, c.log); err != nil {
			c.log.V(1).Info("localize remote branches failed during pull", "error", err.Error())
		}

		_, branchNames, err := c.listUserBranches()
		if err != nil {
			return false, err
		}
		branchNames = append(branchNames, RootBranch)

		for _, branch := range branchNames {
			err := c.repo.FastForward(ctx, c.cfg.RemoteName, branch)
			if errors.Is(err, gitrepo.ErrNonFastForward) {
				c.log.Info("skipping branch that has diverged from its remote", "branch", branch)
				continue
			}
			if err != nil {
				c.log.V(1).Info("fast-forward failed, will retry on next update cycle", "branch", branch, "error", err.Error())
			}
		}
		return fetchErr == nil, nil
	})
	if err != nil {
		return err
	}

	c.stateCache.Clear()
	c.usersCache.Clear()
	if fetched {
		c.mu.Lock()
		c.lastPull = time.Now()
		c.mu.Unlock()
	}
	return nil
}

// Push publishes the root branch and the client's own user branch to the
// configured remote. Other analysts' branches are never pushed from here:
// each client only ever publishes what it's authorized to write (see
// CommitState's ErrExternalUserCommit). A VCS-level push failure is logged
// and swallowed rather than returned: the engine relies on the next update
// cycle to retry, so the timestamp simply doesn't advance. Returns
// ErrNoRemote if no remote is configured.
func (c *Client) Push(ctx context.Context) error {
	has, err := c.HasRemote(ctx)
	if err != nil {
		return err
	}
	if !has {
		return ErrNoRemote
	}

	branches := []string{RootBranch, UserBranch(c.cfg.Username)}
	pushed, err := scheduleAndObserve(c, scheduler.SLOW, func() (bool, error) {
		pushErr := c.observeGit(ctx, "push", func() error {
			return c.repo.Push(ctx, c.cfg.RemoteName, branches, c.cfg.Auth)
		})
		if pushErr != nil {
			c.log.V(1).Info("push failed, will retry on next update cycle", "error", pushErr.Error())
		}
		return pushErr == nil, nil
	})
	if err != nil {
		return err
	}

	if pushed {
		c.mu.Lock()
		c.lastPush = time.Now()
		c.mu.Unlock()
	}
	return nil
}

// Update is a convenience combinator that Pulls then Pushes, treating
// ErrNoRemote as a successful no-op since a local-only repository has
// nothing to synchronize.
func (c *Client) Update(ctx context.Context) error {
	if err := c.Pull(ctx); err != nil && !errors.Is(err, ErrNoRemote) {
		return err
	}
	if err := c.Push(ctx); err != nil && !errors.Is(err, ErrNoRemote) {
		return err
	}
	return nil
}
