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
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/binsync/engine/internal/gitrepo"
	"github.com/binsync/engine/internal/scheduler"
	"github.com/binsync/engine/state"
)

// treeAdapter lets a *object.Tree read through gitrepo's blob loader and
// satisfy state.Tree.
type treeAdapter struct {
	repo *gitrepo.Repo
	tree *object.Tree
}

func (t treeAdapter) File(path string) ([]byte, error) {
	return t.repo.ReadFile(t.tree, path)
}

// worktreeIndex lets State.Dump implementations write into the checked
// out worktree and satisfy state.Index.
type worktreeIndex struct {
	repo *gitrepo.Repo
}

func (w worktreeIndex) WriteFile(path string, data []byte) error {
	return w.repo.WriteWorktreeFile(path, data)
}

// blobLoader implements state.BlobLoader against an arbitrary tree,
// letting a Parser reach outside the file(s) it was handed directly.
type blobLoader struct {
	repo *gitrepo.Repo
}

func (l blobLoader) LoadFileFromTree(tree state.Tree, path string) ([]byte, error) {
	if t, ok := tree.(treeAdapter); ok {
		return l.repo.ReadFile(t.tree, path)
	}
	return tree.File(path)
}

// CommitState flushes s's pending changes to the caller's own branch. It
// is a no-op (no empty commit is created) if s isn't Dirty, or if
// dumping s produces no change against HEAD. It returns
// ErrExternalUserCommit if s belongs to a different user than the Client
// was opened for — a client can only ever write its own branch.
func (c *Client) CommitState(ctx context.Context, s state.State) error {
	if s.User() != c.cfg.Username {
		return fmt.Errorf("%w: %s", ErrExternalUserCommit, s.User())
	}
	if !s.Dirty() {
		return nil
	}

	branch := UserBranch(c.cfg.Username)
	committed, err := scheduleAndObserve(c, scheduler.AVERAGE, func() (bool, error) {
		committed := false
		err := c.observeGit(ctx, "commit", func() error {
			if err := c.repo.Checkout(branch); err != nil {
				return err
			}
			if err := s.Dump(worktreeIndex{repo: c.repo}); err != nil {
				return fmt.Errorf("dump state for %s: %w", s.User(), err)
			}
			if err := c.repo.StageGlob(c.cfg.Username + "/*"); err != nil {
				return err
			}
			clean, err := c.repo.IndexMatchesHead()
			if err != nil {
				return err
			}
			if clean {
				return nil
			}

			msg := fmt.Sprintf("update state for %s", c.cfg.Username)
			email := gitrepo.ConstructSafeEmail(c.cfg.Username, c.cfg.CommitDomain)
			if _, err := c.repo.Commit(msg, c.cfg.Username, email); err != nil {
				return err
			}
			s.ClearDirty()
			committed = true
			return nil
		})
		return committed, err
	})
	if err != nil {
		return err
	}
	if !committed {
		return nil
	}

	c.stateCache.InvalidateLive(c.cfg.Username)
	c.mu.Lock()
	c.lastCommit = time.Now()
	c.mu.Unlock()
	return nil
}

// GetState returns user's parsed State. With version nil, it returns the
// current tree — the newest-authored-date commit among every ref (local
// or remote-tracking) for that user's branch — and caches it against live
// invalidation by branch-head movement. With version set, it parses that
// exact historical commit, whose result never goes stale and is cached
// permanently.
func (c *Client) GetState(ctx context.Context, user string, version *string) (state.State, error) {
	if version != nil {
		hash := plumbing.NewHash(*version)
		return withCache(c, opGetState, cacheKey{user: user, version: hash}, func() (state.State, error) {
			return scheduleAndObserve(c, scheduler.AVERAGE, func() (state.State, error) {
				return c.parseAt(user, hash)
			})
		})
	}

	return withCache(c, opGetState, cacheKey{user: user, version: plumbing.ZeroHash}, func() (state.State, error) {
		return scheduleAndObserve(c, scheduler.AVERAGE, func() (state.State, error) {
			tree, _, err := c.currentTreeForUser(user)
			if err != nil {
				return nil, err
			}
			s, err := c.cfg.Parser(treeAdapter{repo: c.repo, tree: tree}, user, nil, blobLoader{repo: c.repo})
			if errors.Is(err, state.ErrMetadataNotFound) && user == c.cfg.Username && c.cfg.NewEmptyState != nil {
				return c.cfg.NewEmptyState(user), nil
			}
			return s, err
		})
	})
}

func (c *Client) parseAt(user string, hash plumbing.Hash) (state.State, error) {
	tree, err := c.repo.TreeAt(hash)
	if err != nil {
		return nil, err
	}
	versionStr := hash.String()
	return c.cfg.Parser(treeAdapter{repo: c.repo, tree: tree}, user, &versionStr, blobLoader{repo: c.repo})
}

// Users returns every username with a branch in the repository, not
// including the client's own root-branch anchor. The result is cached,
// unkeyed, until something explicitly invalidates it (a branch appearing
// or disappearing, such as after a Pull) — there is no way to check
// whether the branch set has changed without reading the repository, so
// unlike GetState's live lookup, a cache hit here is a pure caller-thread
// check with no scheduled read involved even to validate the key.
func (c *Client) Users(ctx context.Context) ([]state.User, error) {
	if v, ok := c.usersCache.Peek(); ok {
		if users, ok := v.([]state.User); ok {
			c.recordCache(true)
			return users, nil
		}
	}
	c.recordCache(false)

	return scheduleAndObserve(c, scheduler.FAST, func() ([]state.User, error) {
		usernames, branchNames, err := c.listUserBranches()
		if err != nil {
			return nil, err
		}
		users := make([]state.User, 0, len(usernames))
		for _, name := range usernames {
			users = append(users, state.User{Username: name})
		}
		c.usersCache.Put(branchNames, users)
		return users, nil
	})
}
