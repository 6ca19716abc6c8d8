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

package gitrepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	r, err := Init(dir)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func commitFile(t *testing.T, r *Repo, branch, path, contents string) {
	t.Helper()
	require.NoError(t, r.WriteWorktreeFile(path, []byte(contents)))
	require.NoError(t, r.StageGlob(path))
	hash, err := r.Commit("test commit", "tester", "tester@example.com")
	require.NoError(t, err)
	require.NoError(t, r.SetBranchHead(branch, hash))
}

func TestInitAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	assert.False(t, Exists(dir))

	r, err := Init(dir)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.WriteWorktreeFile("a.txt", []byte("hello")))
	require.NoError(t, r.StageGlob("a.txt"))
	hash, err := r.Commit("first", "tester", "tester@example.com")
	require.NoError(t, err)
	require.NoError(t, r.SetBranchHead("main", hash))
	require.NoError(t, r.Checkout("main"))

	assert.True(t, Exists(dir))
}

func TestCreateBranchAndCheckout(t *testing.T) {
	r := newTestRepo(t)
	commitFile(t, r, "binsync/__root__", "root.txt", "root")
	require.NoError(t, r.Checkout("binsync/__root__"))

	rootHash, err := r.ResolveRef(BranchRef("binsync/__root__"))
	require.NoError(t, err)
	require.False(t, rootHash.IsZero())

	require.NoError(t, r.CreateBranchAt("binsync/alice", rootHash))
	has, err := r.HasLocalBranch("binsync/alice")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, r.Checkout("binsync/alice"))
	name, hash, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, BranchRef("binsync/alice"), name)
	assert.Equal(t, rootHash, hash)
}

func TestHasLocalBranch_Missing(t *testing.T) {
	r := newTestRepo(t)
	has, err := r.HasLocalBranch("binsync/nobody")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestIndexMatchesHead(t *testing.T) {
	r := newTestRepo(t)
	commitFile(t, r, "binsync/__root__", "root.txt", "root")
	require.NoError(t, r.Checkout("binsync/__root__"))

	clean, err := r.IndexMatchesHead()
	require.NoError(t, err)
	assert.True(t, clean, "freshly committed tree should be clean")

	require.NoError(t, r.WriteWorktreeFile("alice/notes.txt", []byte("new stuff")))
	require.NoError(t, r.StageGlob("alice/*"))

	clean, err = r.IndexMatchesHead()
	require.NoError(t, err)
	assert.False(t, clean, "staged new file should make the index dirty")
}

func TestTreeAndReadFile(t *testing.T) {
	r := newTestRepo(t)
	commitFile(t, r, "binsync/__root__", "metadata.toml", "version = 1\n")
	require.NoError(t, r.Checkout("binsync/__root__"))

	tree, err := r.Tree("binsync/__root__")
	require.NoError(t, err)

	data, err := r.ReadFile(tree, "metadata.toml")
	require.NoError(t, err)
	assert.Equal(t, "version = 1\n", string(data))
}

func TestFastForward_NoRemoteTrackingRefIsNoop(t *testing.T) {
	r := newTestRepo(t)
	commitFile(t, r, "binsync/__root__", "root.txt", "root")
	require.NoError(t, r.Checkout("binsync/__root__"))

	err := r.FastForward(context.Background(), "origin", "binsync/__root__")
	assert.NoError(t, err, "fast-forward with no remote-tracking ref should be a no-op")
}

func TestConstructSafeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", ConstructSafeEmail("alice@example.com", "binsync.local"))
	assert.Equal(t, "bob_the_builder@noreply.binsync.local", mustSanitize(t, "Bob The Builder!", "binsync.local"))
}

func mustSanitize(t *testing.T, username, domain string) string {
	t.Helper()
	got := ConstructSafeEmail(username, domain)
	require.Contains(t, got, "@noreply."+domain)
	return got
}

func TestEnsureRemote_CreatesThenUpdates(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.EnsureRemote("origin", "https://example.com/repo.git"))
	has, err := r.HasRemote("origin")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, r.EnsureRemote("origin", "https://example.com/other.git"))
	remotes, err := r.raw.Remotes()
	require.NoError(t, err)
	require.Len(t, remotes, 1)
	assert.Equal(t, "https://example.com/other.git", remotes[0].Config().URLs[0])
}

func TestCurrentBranch_UnbornHead(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	require.NoError(t, err)
	defer r.Close()

	name, hash, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.True(t, hash.IsZero())
	assert.NotEmpty(t, name)
}

func TestLocalizeRemoteBranches_NoRemote(t *testing.T) {
	r := newTestRepo(t)
	err := r.LocalizeRemoteBranches(context.Background(), "origin", nil, logr.Discard())
	assert.Error(t, err, "listing refs on a nonexistent remote should fail")
}
