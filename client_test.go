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
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binsync/engine/internal/gitrepo"
	"github.com/binsync/engine/state"
)

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return dir
}

func testConfig(t *testing.T, repoDir, remoteURL, username string) Config {
	t.Helper()
	return Config{
		RepoDir:    repoDir,
		RemoteURL:  remoteURL,
		RemoteName: "origin",
		Username:   username,
		Parser:     state.ParseTOMLState,
		NewEmptyState: func(username string) state.State {
			return state.NewTOMLState(username)
		},
	}
}

func TestInit_WritesGitignoreAndBinaryHash(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	cfg := testConfig(t, dir, "", "alice")
	cfg.BinaryHash = "aa"
	c, err := Init(ctx, cfg)
	require.NoError(t, err)
	defer c.Close()

	tree, err := c.repo.Tree(RootBranch)
	require.NoError(t, err)

	gitignore, err := c.repo.ReadFile(tree, ".gitignore")
	require.NoError(t, err)
	assert.Equal(t, ".git/*\n", string(gitignore))

	hash, err := c.repo.ReadFile(tree, "binary_hash")
	require.NoError(t, err)
	assert.Equal(t, "aa\n", string(hash))

	assert.Empty(t, c.ConnectionWarnings())
}

func TestAttach_RecordsHashMismatchWarning(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	cfg := testConfig(t, dir, "", "alice")
	cfg.BinaryHash = "aa"
	c, err := Init(ctx, cfg)
	require.NoError(t, err)
	c.Close()

	attachCfg := testConfig(t, dir, "", "alice")
	attachCfg.BinaryHash = "bb"
	c2, err := Attach(ctx, attachCfg)
	require.NoError(t, err)
	defer c2.Close()

	assert.Equal(t, []ConnectionWarning{HashMismatch}, c2.ConnectionWarnings())
}

func TestAttach_NoWarningWhenHashMatches(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	cfg := testConfig(t, dir, "", "alice")
	cfg.BinaryHash = "aa"
	c, err := Init(ctx, cfg)
	require.NoError(t, err)
	c.Close()

	attachCfg := testConfig(t, dir, "", "alice")
	attachCfg.BinaryHash = "aa"
	c2, err := Attach(ctx, attachCfg)
	require.NoError(t, err)
	defer c2.Close()

	assert.Empty(t, c2.ConnectionWarnings())
}

func TestInit_CreatesRootAndUserBranch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	hasRoot, err := c.repo.HasLocalBranch(RootBranch)
	require.NoError(t, err)
	assert.True(t, hasRoot)

	hasUser, err := c.repo.HasLocalBranch(UserBranch("alice"))
	require.NoError(t, err)
	assert.True(t, hasUser)

	users, err := c.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
}

func TestInit_TwiceFails(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	c.Close()

	_, err = Init(ctx, testConfig(t, dir, "", "bob"))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestAttach_FailsWithoutRootBranch(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	r, err := gitrepo.Init(dir)
	require.NoError(t, err)
	require.NoError(t, r.WriteWorktreeFile("README.md", []byte("not a binsync repo")))
	require.NoError(t, r.StageGlob("README.md"))
	hash, err := r.Commit("unrelated commit", "someone", "someone@example.com")
	require.NoError(t, err)
	require.NoError(t, r.SetBranchHead("main", hash))
	r.Close()

	_, err = Attach(ctx, testConfig(t, dir, "", "alice"))
	assert.ErrorIs(t, err, ErrNotABinsyncRepo)
}

func TestAttach_FailsWhileAnotherClientHoldsTheRepoLock(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	_, err = Attach(ctx, testConfig(t, dir, "", "bob"))
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestAttach_SucceedsAfterLockHolderCloses(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c2, err := Attach(ctx, testConfig(t, dir, "", "bob"))
	require.NoError(t, err)
	defer c2.Close()
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("alice"))
	assert.NoError(t, ValidateUsername("alice.smith-99"))
	assert.Error(t, ValidateUsername(""))
	assert.Error(t, ValidateUsername("__root__"))
	assert.Error(t, ValidateUsername("foo__root__bar"))
	assert.Error(t, ValidateUsername("__root__bar"))
	assert.Error(t, ValidateUsername("foo__root__"))
	assert.Error(t, ValidateUsername("has space"))
}

func TestCommitState_NoOpWhenAlreadyClean(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	s := state.NewTOMLState("alice")
	s.SetAnnotation("sub_401000", "main")
	require.NoError(t, c.CommitState(ctx, s))
	assert.False(t, s.Dirty())

	firstCommit := c.LastCommitTime()
	require.False(t, firstCommit.IsZero())

	// Calling CommitState again with no new annotations must be a no-op:
	// Dirty() is already false so the scheduler isn't even touched.
	require.NoError(t, c.CommitState(ctx, s))
	assert.Equal(t, firstCommit, c.LastCommitTime())
}

func TestCommitState_RejectsExternalUser(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	bobState := state.NewTOMLState("bob")
	bobState.SetAnnotation("x", "y")

	err = c.CommitState(ctx, bobState)
	assert.ErrorIs(t, err, ErrExternalUserCommit)
}

func TestGetState_ReturnsCommittedAnnotations(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	s := state.NewTOMLState("alice")
	s.SetAnnotation("func_1000", "parse_input")
	require.NoError(t, c.CommitState(ctx, s))

	got, err := c.GetState(ctx, "alice", nil)
	require.NoError(t, err)
	ts, ok := got.(*state.TOMLState)
	require.True(t, ok)
	assert.Equal(t, "parse_input", ts.Annotations["func_1000"])
}

func TestGetState_SynthesizesEmptyStateForMasterUserOnFirstRead(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	// alice's branch exists but has never had commit_state called against
	// it, so its tree has no alice/metadata.toml yet.
	got, err := c.GetState(ctx, "alice", nil)
	require.NoError(t, err)
	ts, ok := got.(*state.TOMLState)
	require.True(t, ok)
	assert.Equal(t, "alice", ts.User())
	assert.Empty(t, ts.Annotations)
}

func TestGetState_PropagatesMissingMetadataForNonMasterUser(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	rootHash, err := c.repo.ResolveRef(gitrepo.BranchRef(RootBranch))
	require.NoError(t, err)
	require.NoError(t, c.repo.CreateBranchAt(UserBranch("bob"), rootHash))

	// bob's branch exists (forked from root) but has never had commit_state
	// called, so it has no bob/metadata.toml either. Since alice is asking
	// about bob rather than herself, the engine must not synthesize an
	// empty state on her behalf — it propagates the parser's failure.
	_, err = c.GetState(ctx, "bob", nil)
	assert.ErrorIs(t, err, state.ErrMetadataNotFound)
}

func TestGetState_CachesLiveLookup(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	s := state.NewTOMLState("alice")
	s.SetAnnotation("a", "1")
	require.NoError(t, c.CommitState(ctx, s))

	first, err := c.GetState(ctx, "alice", nil)
	require.NoError(t, err)
	second, err := c.GetState(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Same(t, first, second, "second lookup should be served from cache, same pointer")
}

func TestGetState_CacheHitDoesNotTouchTheScheduler(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	s := state.NewTOMLState("alice")
	s.SetAnnotation("a", "1")
	require.NoError(t, c.CommitState(ctx, s))

	_, err = c.GetState(ctx, "alice", nil)
	require.NoError(t, err)

	c.sched.Stop()
	got, err := c.GetState(ctx, "alice", nil)
	require.NoError(t, err, "a cache hit must be served on the caller's thread without enqueuing a job")
	assert.Equal(t, "alice", got.User())
}

func TestUsers_CacheHitDoesNotTouchTheScheduler(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Users(ctx)
	require.NoError(t, err)

	c.sched.Stop()
	users, err := c.Users(ctx)
	require.NoError(t, err, "a cache hit must be served on the caller's thread without enqueuing a job")
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
}

func TestHasRemote(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	has, err := c.HasRemote(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPushPullRoundTripBetweenTwoClients(t *testing.T) {
	ctx := context.Background()
	remote := newBareRemote(t)

	aliceDir := filepath.Join(t.TempDir(), "alice-repo")
	alice, err := Init(ctx, testConfig(t, aliceDir, remote, "alice"))
	require.NoError(t, err)
	defer alice.Close()

	s := state.NewTOMLState("alice")
	s.SetAnnotation("entry", "main")
	require.NoError(t, alice.CommitState(ctx, s))
	require.NoError(t, alice.Push(ctx))

	bobDir := filepath.Join(t.TempDir(), "bob-repo")
	bob, err := Attach(ctx, testConfig(t, bobDir, remote, "bob"))
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.Push(ctx))
	require.NoError(t, bob.Pull(ctx))

	got, err := bob.GetState(ctx, "alice", nil)
	require.NoError(t, err)
	ts := got.(*state.TOMLState)
	assert.Equal(t, "main", ts.Annotations["entry"])

	users, err := bob.Users(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}

func TestPull_WithoutRemoteFails(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	assert.ErrorIs(t, c.Pull(ctx), ErrNoRemote)
	assert.ErrorIs(t, c.Push(ctx), ErrNoRemote)
}

func TestPull_SwallowsUnreachableRemoteAndLeavesTimestampUnset(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")
	unreachable := filepath.Join(t.TempDir(), "does-not-exist.git")

	c, err := Init(ctx, testConfig(t, dir, unreachable, "alice"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Pull(ctx), "a flaky remote must be logged and swallowed, not returned")
	assert.True(t, c.LastPullTime().IsZero(), "a failed fetch must not advance the pull timestamp")
}

func TestPush_SwallowsUnreachableRemoteAndLeavesTimestampUnset(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")
	unreachable := filepath.Join(t.TempDir(), "does-not-exist.git")

	c, err := Init(ctx, testConfig(t, dir, unreachable, "alice"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Push(ctx), "a flaky remote must be logged and swallowed, not returned")
	assert.True(t, c.LastPushTime().IsZero(), "a failed push must not advance the push timestamp")
}

func TestUpdate_TreatsNoRemoteAsNoop(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	c, err := Init(ctx, testConfig(t, dir, "", "alice"))
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Update(ctx))
}
