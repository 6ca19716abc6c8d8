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
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/binsync/engine/internal/gitrepo"
)

// bestRef resolves branch by preference order: local ref, then the
// configured remote's tracking ref, then any other remote's tracking ref.
// It returns the zero hash (no error) if the branch exists nowhere.
func (c *Client) bestRef(branch string) (plumbing.Hash, error) {
	local, err := c.repo.ResolveRef(gitrepo.BranchRef(branch))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !local.IsZero() {
		return local, nil
	}

	configured, err := c.repo.ResolveRef(gitrepo.RemoteBranchRef(c.cfg.RemoteName, branch))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if !configured.IsZero() {
		return configured, nil
	}

	remotes, err := c.repo.RemoteNames()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	for _, remote := range remotes {
		if remote == c.cfg.RemoteName {
			continue
		}
		hash, err := c.repo.ResolveRef(gitrepo.RemoteBranchRef(remote, branch))
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if !hash.IsZero() {
			return hash, nil
		}
	}
	return plumbing.ZeroHash, nil
}

// currentTreeForUser picks, among every ref (local plus every remote's
// tracking ref) for user's branch, the one with the newest commit author
// timestamp — the "current tree" the client reads from when no specific
// historical version is requested. This differs from bestRef's
// local-first preference: a collaborator's freshly pulled remote commit
// can be newer than a stale local branch.
func (c *Client) currentTreeForUser(user string) (*object.Tree, plumbing.Hash, error) {
	branch := UserBranch(user)
	candidates, err := c.candidateRefs(branch)
	if err != nil {
		return nil, plumbing.ZeroHash, err
	}
	if len(candidates) == 0 {
		return nil, plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}

	var bestHash plumbing.Hash
	var bestTime time.Time
	for _, hash := range candidates {
		when, err := c.repo.CommitAuthorTime(hash)
		if err != nil {
			return nil, plumbing.ZeroHash, err
		}
		if bestHash.IsZero() || when.After(bestTime) {
			bestHash, bestTime = hash, when
		}
	}

	tree, err := c.repo.TreeAt(bestHash)
	if err != nil {
		return nil, plumbing.ZeroHash, err
	}
	return tree, bestHash, nil
}

func (c *Client) candidateRefs(branch string) ([]plumbing.Hash, error) {
	seen := map[plumbing.Hash]bool{}
	var out []plumbing.Hash

	add := func(h plumbing.Hash) {
		if !h.IsZero() && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}

	local, err := c.repo.ResolveRef(gitrepo.BranchRef(branch))
	if err != nil {
		return nil, err
	}
	add(local)

	refs, err := c.repo.Refs()
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if !ref.Name().IsRemote() {
			continue
		}
		if strings.HasSuffix(ref.Name().String(), "/"+branch) {
			add(ref.Hash())
		}
	}
	return out, nil
}

// listUserBranches returns every per-user branch's short username
// (excluding the root branch) known locally, and the raw branch-name set
// used as the users cache key.
func (c *Client) listUserBranches() ([]string, []string, error) {
	refs, err := c.repo.Refs()
	if err != nil {
		return nil, nil, err
	}

	var branchNames []string
	var usernames []string
	for _, ref := range refs {
		if !ref.Name().IsBranch() {
			continue
		}
		short := ref.Name().Short()
		if short == RootBranch {
			continue
		}
		if !strings.HasPrefix(short, branchPrefix) {
			continue
		}
		branchNames = append(branchNames, short)
		usernames = append(usernames, strings.TrimPrefix(short, branchPrefix))
	}
	return usernames, branchNames, nil
}
