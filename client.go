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

// Package binsync coordinates a shared git repository of per-user
// annotation branches: one root branch anchoring the project, and one
// branch per analyst holding their own state, merged and pushed under a
// single serialized Client so the embedded git library never sees
// concurrent worktree mutation.
package binsync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-logr/logr"

	"github.com/binsync/engine/internal/binlock"
	"github.com/binsync/engine/internal/cache"
	"github.com/binsync/engine/internal/gitrepo"
	"github.com/binsync/engine/internal/metrics"
	"github.com/binsync/engine/internal/scheduler"
	"github.com/binsync/engine/state"
)

// RootBranch is the anchor branch every binsync repository carries.
const RootBranch = "binsync/__root__"

// branchPrefix precedes every per-user branch's username.
const branchPrefix = "binsync/"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// ValidateUsername reports whether name is safe to use as a git branch
// component and doesn't collide with the reserved root branch name — which
// it must not even contain as a substring, since branchPrefix+name could
// otherwise be mistaken for RootBranch by a naive suffix check.
func ValidateUsername(name string) error {
	if name == "" || strings.Contains(name, "__root__") || !usernamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadUsername, name)
	}
	return nil
}

// UserBranch returns the branch name for username.
func UserBranch(username string) string {
	return branchPrefix + username
}

// ConnectionWarning is a non-fatal condition observed while attaching to a
// repository. Unlike errors, a warning never aborts construction.
type ConnectionWarning string

// HashMismatch fires when the binary identifier supplied to Attach differs
// from the one recorded in the root branch's binary_hash blob. The Client
// still attaches and operates normally.
const HashMismatch ConnectionWarning = "HASH_MISMATCH"

const (
	gitignorePath  = ".gitignore"
	binaryHashPath = "binary_hash"
	gitignoreBody  = ".git/*\n"
)

// Config configures a Client. RepoDir is required; RemoteURL, RemoteName,
// and Auth are optional and only needed to synchronize with a shared
// remote. Parser is required: the engine never interprets annotation
// bytes itself.
type Config struct {
	RepoDir       string
	RemoteURL     string
	RemoteName    string
	Username      string
	BinaryHash    string
	Parser        state.Parser
	NewEmptyState state.EmptyStateFactory
	Auth          transport.AuthMethod
	Logger        logr.Logger
	Metrics       *metrics.Metrics
	CommitDomain  string
}

func (c *Config) setDefaults() {
	if c.RemoteName == "" {
		c.RemoteName = "origin"
	}
	if c.CommitDomain == "" {
		c.CommitDomain = "binsync.local"
	}
}

// Client is a single analyst's handle onto a binsync repository. All
// methods are safe for concurrent use: every repository-touching
// operation is funneled through an internal single-worker scheduler.
type Client struct {
	cfg   Config
	log   logr.Logger
	repo  *gitrepo.Repo
	sched *scheduler.Scheduler
	lock  *binlock.Lock

	stateCache *cache.StateCache
	usersCache *cache.UsersCache

	mu                 sync.Mutex
	lastCommit         time.Time
	lastPush           time.Time
	lastPull           time.Time
	connectionWarnings []ConnectionWarning
}

func newClient(cfg Config, repo *gitrepo.Repo, lock *binlock.Lock) *Client {
	c := &Client{
		cfg:        cfg,
		log:        cfg.Logger,
		repo:       repo,
		lock:       lock,
		sched:      scheduler.New(),
		stateCache: cache.NewStateCache(),
		usersCache: cache.NewUsersCache(),
	}
	c.sched.Start()
	return c
}

// Attach opens an existing binsync repository at cfg.RepoDir (cloning it
// first from cfg.RemoteURL if the directory doesn't exist yet), and
// ensures cfg.Username has a branch, creating one from the root branch's
// current head if it doesn't. It returns ErrNotABinsyncRepo if the
// repository (after an optional clone and fetch) has no root branch.
func Attach(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()
	if err := ValidateUsername(cfg.Username); err != nil {
		return nil, err
	}

	repo, lock, err := openOrClone(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rootHash, err := repo.ResolveRef(gitrepo.BranchRef(RootBranch))
	if err != nil {
		releaseAll(repo, lock)
		return nil, err
	}
	if rootHash.IsZero() && cfg.RemoteURL != "" {
		if err := repo.FetchAll(ctx, cfg.RemoteName, cfg.Auth); err != nil {
			releaseAll(repo, lock)
			return nil, err
		}
		if err := repo.LocalizeRemoteBranches(ctx, cfg.RemoteName, cfg.Auth, cfg.Logger); err != nil {
			cfg.Logger.V(1).Info("localize remote branches failed during attach", "error", err.Error())
		}
		rootHash, err = repo.ResolveRef(gitrepo.BranchRef(RootBranch))
		if err != nil {
			releaseAll(repo, lock)
			return nil, err
		}
	}
	if rootHash.IsZero() {
		releaseAll(repo, lock)
		return nil, ErrNotABinsyncRepo
	}

	c := newClient(cfg, repo, lock)
	if err := c.checkBinaryHash(rootHash); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.ensureUserBranch(ctx, rootHash); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// checkBinaryHash compares cfg.BinaryHash against the value recorded in the
// root branch's binary_hash blob, appending HashMismatch to
// c.connectionWarnings on a difference. A mismatch is never fatal — it's
// surfaced so the host application can warn its user, not to abort attach.
// An empty cfg.BinaryHash skips the check entirely: callers that don't
// track a binary identifier opt out by leaving it unset.
func (c *Client) checkBinaryHash(rootHash plumbing.Hash) error {
	if c.cfg.BinaryHash == "" {
		return nil
	}
	tree, err := c.repo.TreeAt(rootHash)
	if err != nil {
		return err
	}
	stored, err := c.repo.ReadFile(tree, binaryHashPath)
	if err != nil {
		// A root branch predating this field, or one created by a peer
		// that never set one, isn't a mismatch worth warning about.
		return nil
	}
	if strings.TrimRight(string(stored), "\n") != c.cfg.BinaryHash {
		c.connectionWarnings = append(c.connectionWarnings, HashMismatch)
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.HashMismatchWarnings.Add(context.Background(), 1)
		}
	}
	return nil
}

// Init creates a brand-new binsync repository at cfg.RepoDir: a working
// directory (and, if cfg.RemoteURL is set, a configured remote), a root
// branch with a single anchor commit, and cfg.Username's own branch. It
// returns ErrAlreadyInitialized if a root branch already exists.
func Init(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()
	if err := ValidateUsername(cfg.Username); err != nil {
		return nil, err
	}

	var repo *gitrepo.Repo
	var err error
	if gitrepo.Exists(cfg.RepoDir) {
		repo, err = gitrepo.Open(cfg.RepoDir)
	} else {
		repo, err = gitrepo.Init(cfg.RepoDir)
	}
	if err != nil {
		return nil, err
	}

	lock, err := acquireLock(cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}

	if cfg.RemoteURL != "" {
		if err := repo.EnsureRemote(cfg.RemoteName, cfg.RemoteURL); err != nil {
			releaseAll(repo, lock)
			return nil, err
		}
		if err := repo.FetchAll(ctx, cfg.RemoteName, cfg.Auth); err != nil {
			cfg.Logger.V(1).Info("initial fetch failed, proceeding with a local-only init", "error", err.Error())
		} else if err := repo.LocalizeRemoteBranches(ctx, cfg.RemoteName, cfg.Auth, cfg.Logger); err != nil {
			cfg.Logger.V(1).Info("localize remote branches failed during init", "error", err.Error())
		}
	}

	rootHash, err := repo.ResolveRef(gitrepo.BranchRef(RootBranch))
	if err != nil {
		releaseAll(repo, lock)
		return nil, err
	}
	if !rootHash.IsZero() {
		releaseAll(repo, lock)
		return nil, ErrAlreadyInitialized
	}

	if err := repo.SetHeadSymbolic(RootBranch); err != nil {
		releaseAll(repo, lock)
		return nil, err
	}
	if err := repo.WriteWorktreeFile(gitignorePath, []byte(gitignoreBody)); err != nil {
		releaseAll(repo, lock)
		return nil, err
	}
	if err := repo.WriteWorktreeFile(binaryHashPath, []byte(cfg.BinaryHash+"\n")); err != nil {
		releaseAll(repo, lock)
		return nil, err
	}
	if err := repo.StageGlob(gitignorePath); err != nil {
		releaseAll(repo, lock)
		return nil, err
	}
	if err := repo.StageGlob(binaryHashPath); err != nil {
		releaseAll(repo, lock)
		return nil, err
	}
	rootHash, err = repo.Commit("Root commit", "binsync", gitrepo.ConstructSafeEmail("binsync", cfg.CommitDomain))
	if err != nil {
		releaseAll(repo, lock)
		return nil, err
	}

	c := newClient(cfg, repo, lock)
	if err := c.ensureUserBranch(ctx, rootHash); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func openOrClone(ctx context.Context, cfg Config) (*gitrepo.Repo, *binlock.Lock, error) {
	var repo *gitrepo.Repo
	var err error
	if gitrepo.Exists(cfg.RepoDir) {
		repo, err = gitrepo.Open(cfg.RepoDir)
	} else if cfg.RemoteURL != "" {
		repo, err = gitrepo.Clone(ctx, cfg.RemoteURL, cfg.RepoDir, cfg.Auth)
	} else {
		return nil, nil, fmt.Errorf("binsync: %s does not exist and no remote URL was given", cfg.RepoDir)
	}
	if err != nil {
		return nil, nil, err
	}

	lock, err := acquireLock(cfg)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}

	if cfg.RemoteURL != "" {
		if err := repo.EnsureRemote(cfg.RemoteName, cfg.RemoteURL); err != nil {
			releaseAll(repo, lock)
			return nil, nil, err
		}
	}
	return repo, lock, nil
}

// acquireLock wraps binlock.Acquire with a wait-time observation and maps
// its sentinel onto the package's own ErrLockHeld. It's a free function
// rather than a Client method because it runs before a Client exists —
// Attach and Init both need the lock before they have anywhere to hang one.
func acquireLock(cfg Config) (*binlock.Lock, error) {
	start := time.Now()
	lock, err := binlock.Acquire(cfg.RepoDir)
	if cfg.Metrics != nil {
		cfg.Metrics.LockWaitSeconds.Record(context.Background(), time.Since(start).Seconds())
	}
	if errors.Is(err, binlock.ErrLockHeld) {
		err = fmt.Errorf("%w: %w", ErrLockHeld, err)
	}
	return lock, err
}

func releaseAll(repo *gitrepo.Repo, lock *binlock.Lock) {
	if lock != nil {
		lock.Close()
	}
	if repo != nil {
		repo.Close()
	}
}

// ensureUserBranch creates the client's own branch from rootHash if it
// doesn't already resolve via best-ref selection.
func (c *Client) ensureUserBranch(ctx context.Context, rootHash plumbing.Hash) error {
	branch := UserBranch(c.cfg.Username)
	hash, err := c.bestRef(branch)
	if err != nil {
		return err
	}
	if !hash.IsZero() {
		return nil
	}
	return c.repo.CreateBranchAt(branch, rootHash)
}

// Close stops the client's scheduler, releases the process lock, and
// closes the underlying repository handle. It does not push pending
// commits; call Push first if that's desired.
func (c *Client) Close() error {
	c.sched.Stop()
	var err error
	if c.lock != nil {
		err = c.lock.Close()
	}
	c.repo.Close()
	return err
}

// HasRemote reports whether the repository has a configured remote. This
// is never cached — the decision to retry a sync depends on observing the
// current state, not a stale one.
func (c *Client) HasRemote(ctx context.Context) (bool, error) {
	return scheduleAndObserve(c, scheduler.FAST, func() (bool, error) {
		return c.repo.HasRemote(c.cfg.RemoteName)
	})
}

// LastCommitTime returns the time of the most recent commit created by
// CommitState, or the zero Time if none has happened yet. A CommitState
// call that finds nothing to commit leaves it unchanged.
func (c *Client) LastCommitTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommit
}

// LastPushTime returns the time of the most recent successful Push.
func (c *Client) LastPushTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPush
}

// LastPullTime returns the time of the most recent successful Pull.
func (c *Client) LastPullTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPull
}

// ConnectionWarnings returns the non-fatal warnings observed while
// attaching, such as HashMismatch. It is populated once at construction
// and never changes afterward.
func (c *Client) ConnectionWarnings() []ConnectionWarning {
	return c.connectionWarnings
}
