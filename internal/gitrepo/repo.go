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

// Package gitrepo is a thin, synchronous façade over go-git exposing
// exactly the primitives the binsync Client needs: branch, index, tree,
// commit, and fetch/push primitives. All calls are synchronous and expect
// to be serialized by a caller-side scheduler (the underlying library is
// not reentrant).
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-logr/logr"
)

// ErrReferenceNotFound is re-exported so callers don't need to reach into
// go-git/plumbing directly to compare against it.
var ErrReferenceNotFound = plumbing.ErrReferenceNotFound

// Repo wraps a single go-git repository handle.
type Repo struct {
	raw *git.Repository
	dir string
}

// Open opens an existing repository rooted at dir.
func Open(dir string) (*Repo, error) {
	raw, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}
	return &Repo{raw: raw, dir: dir}, nil
}

// Init creates a brand-new, non-bare repository at dir.
func Init(dir string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create repo dir %s: %w", dir, err)
	}
	raw, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repository at %s: %w", dir, err)
	}
	return &Repo{raw: raw, dir: dir}, nil
}

// Clone clones remoteURL into dir.
func Clone(ctx context.Context, remoteURL, dir string, auth transport.AuthMethod) (*Repo, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o750); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", dir, err)
	}
	// NoCheckout: a freshly pushed-to remote may have no usable default
	// branch (binsync never pushes one) - callers check out whichever
	// branch they need explicitly once they know it exists.
	raw, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        remoteURL,
		Auth:       auth,
		NoCheckout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s into %s: %w", remoteURL, dir, err)
	}
	return &Repo{raw: raw, dir: dir}, nil
}

// Exists reports whether dir already holds a usable .git directory,
// following the teacher's "probe before opening" pattern: stat first so a
// missing directory is a clean "no" instead of a logged open failure.
func Exists(dir string) bool {
	gitDir := filepath.Join(dir, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		return false
	}
	raw, err := git.PlainOpen(dir)
	if err != nil {
		return false
	}
	_, err = raw.Head()
	return err == nil
}

// Dir returns the repository's working tree root.
func (r *Repo) Dir() string { return r.dir }

// Close releases the repository handle.
func (r *Repo) Close() {
	if r.raw != nil {
		r.raw.Close()
	}
}

// BranchRef returns refs/heads/<name>.
func BranchRef(name string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(name)
}

// RemoteBranchRef returns refs/remotes/<remote>/<name>.
func RemoteBranchRef(remote, name string) plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(remote, name)
}

// ResolveRef resolves a reference, returning the zero hash (no error) if it
// does not exist — the "try this, it might not be there" shape used
// throughout the attach algorithm.
func (r *Repo) ResolveRef(name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := r.raw.Reference(name, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, fmt.Errorf("resolve ref %s: %w", name, err)
	}
	return ref.Hash(), nil
}

// HasLocalBranch reports whether a local branch of the given short name exists.
func (r *Repo) HasLocalBranch(name string) (bool, error) {
	_, err := r.raw.Reference(BranchRef(name), false)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check local branch %s: %w", name, err)
	}
	return true, nil
}

// CreateBranchAt creates a local branch at the given commit hash, without checking it out.
func (r *Repo) CreateBranchAt(name string, at plumbing.Hash) error {
	ref := plumbing.NewHashReference(BranchRef(name), at)
	if err := r.raw.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// CreateLocalTrackingBranch creates a local branch with the same short name
// as the given remote-tracking ref, pointed at the same commit.
func (r *Repo) CreateLocalTrackingBranch(remote, name string) error {
	hash, err := r.ResolveRef(RemoteBranchRef(remote, name))
	if err != nil {
		return err
	}
	if hash.IsZero() {
		return fmt.Errorf("no remote-tracking branch %s/%s", remote, name)
	}
	return r.CreateBranchAt(name, hash)
}

// Checkout switches the worktree to the named local branch.
func (r *Repo) Checkout(name string) error {
	wt, err := r.raw.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: BranchRef(name), Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", name, err)
	}
	return nil
}

// CurrentBranch mirrors the teacher's GetCurrentBranch: returns the branch
// HEAD points to and its commit hash, tolerating an unborn branch (no
// commits yet) by returning the zero hash instead of failing.
func (r *Repo) CurrentBranch() (plumbing.ReferenceName, plumbing.Hash, error) {
	symbolic, err := r.raw.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("read HEAD: %w", err)
	}
	if symbolic.Type() != plumbing.SymbolicReference {
		return "", plumbing.ZeroHash, errors.New("HEAD is not symbolic")
	}
	commitRef, err := r.raw.Reference(symbolic.Target(), false)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return symbolic.Target(), plumbing.ZeroHash, nil
		}
		return "", plumbing.ZeroHash, fmt.Errorf("resolve HEAD target: %w", err)
	}
	return symbolic.Target(), commitRef.Hash(), nil
}

// Refs returns every reference in the repository (local and remote-tracking).
func (r *Repo) Refs() ([]*plumbing.Reference, error) {
	iter, err := r.raw.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	var out []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out = append(out, ref)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk references: %w", err)
	}
	return out, nil
}

// RemoteRefs lists the references advertised by the named remote without
// fetching any objects — a lightweight connectivity probe.
func (r *Repo) RemoteRefs(name string, auth transport.AuthMethod) ([]*plumbing.Reference, error) {
	remote, err := r.raw.Remote(name)
	if err != nil {
		return nil, fmt.Errorf("get remote %s: %w", name, err)
	}
	refs, err := remote.List(&git.ListOptions{Auth: auth})
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, nil
		}
		return nil, fmt.Errorf("list remote refs on %s: %w", name, err)
	}
	return refs, nil
}

// SetHeadSymbolic points HEAD at the given branch without requiring the
// branch to exist yet, used when bootstrapping a repository's first branch
// (e.g. the binsync root branch) before any commit has been made.
func (r *Repo) SetHeadSymbolic(name string) error {
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, BranchRef(name))
	if err := r.raw.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("point HEAD at %s: %w", name, err)
	}
	return nil
}

// CommitAuthorTime returns the author timestamp of a commit, used to rank
// candidate refs by recency when selecting a user's current tree.
func (r *Repo) CommitAuthorTime(hash plumbing.Hash) (time.Time, error) {
	c, err := r.raw.CommitObject(hash)
	if err != nil {
		return time.Time{}, fmt.Errorf("load commit %s: %w", hash, err)
	}
	return c.Author.When, nil
}

// RemoteNames lists the configured remotes.
func (r *Repo) RemoteNames() ([]string, error) {
	remotes, err := r.raw.Remotes()
	if err != nil {
		return nil, fmt.Errorf("list remotes: %w", err)
	}
	names := make([]string, 0, len(remotes))
	for _, rem := range remotes {
		names = append(names, rem.Config().Name)
	}
	return names, nil
}

// HasRemote reports whether a remote with the given name is configured.
func (r *Repo) HasRemote(name string) (bool, error) {
	remotes, err := r.raw.Remotes()
	if err != nil {
		return false, fmt.Errorf("list remotes: %w", err)
	}
	for _, rem := range remotes {
		if rem.Config().Name == name {
			return true, nil
		}
	}
	return false, nil
}

// EnsureRemote makes sure a remote with the given name and URL exists,
// matching the teacher's ensureRemoteOrigin (create if missing, recreate if
// the URL differs).
func (r *Repo) EnsureRemote(name, url string) error {
	remote, err := r.raw.Remote(name)
	if err != nil {
		_, err = r.raw.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
		if err != nil {
			return fmt.Errorf("create remote %s: %w", name, err)
		}
		return nil
	}
	cfg := remote.Config()
	if len(cfg.URLs) > 0 && cfg.URLs[0] == url {
		return nil
	}
	if err := r.raw.DeleteRemote(name); err != nil {
		return fmt.Errorf("delete stale remote %s: %w", name, err)
	}
	_, err = r.raw.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if err != nil {
		return fmt.Errorf("recreate remote %s: %w", name, err)
	}
	return nil
}

// Tree returns the tree at the head of the given local branch.
func (r *Repo) Tree(branch string) (*object.Tree, error) {
	hash, err := r.ResolveRef(BranchRef(branch))
	if err != nil {
		return nil, err
	}
	if hash.IsZero() {
		return nil, fmt.Errorf("branch %s has no commits", branch)
	}
	return r.TreeAt(hash)
}

// TreeAt returns the root tree of the given commit.
func (r *Repo) TreeAt(commit plumbing.Hash) (*object.Tree, error) {
	c, err := r.raw.CommitObject(commit)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", commit, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree for commit %s: %w", commit, err)
	}
	return tree, nil
}

// ReadFile reads and returns the full contents of a blob in tree at path.
func (r *Repo) ReadFile(tree *object.Tree, path string) ([]byte, error) {
	file, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	return []byte(contents), nil
}

// WriteWorktreeFile writes data to relPath under the repository's working
// tree, creating parent directories as needed.
func (r *Repo) WriteWorktreeFile(relPath string, data []byte) error {
	full := filepath.Join(r.dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return fmt.Errorf("write file %s: %w", relPath, err)
	}
	return nil
}

// StageGlob stages every path matching a `<prefix>/*`-style glob relative
// to the working tree root, matching the engine's "stage <user>/*" policy.
func (r *Repo) StageGlob(glob string) error {
	wt, err := r.raw.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(r.dir, glob))
	if err != nil {
		return fmt.Errorf("glob %s: %w", glob, err)
	}
	for _, m := range matches {
		rel, err := filepath.Rel(r.dir, m)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", m, err)
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return fmt.Errorf("stage %s: %w", rel, err)
		}
	}
	return nil
}

// IndexMatchesHead reports whether the staged index is identical to HEAD
// (nothing to commit).
func (r *Repo) IndexMatchesHead() (bool, error) {
	wt, err := r.raw.Worktree()
	if err != nil {
		return false, fmt.Errorf("get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("diff index against HEAD: %w", err)
	}
	// Only the staging side counts: unstaged edits and untracked files
	// (such as the process lock file) are not part of the next commit.
	for _, fs := range status {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			return false, nil
		}
	}
	return true, nil
}

// Commit creates a commit on the checked-out branch, returning its hash.
func (r *Repo) Commit(msg, authorName, authorEmail string) (plumbing.Hash, error) {
	wt, err := r.raw.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("get worktree: %w", err)
	}
	sig := &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()}
	hash, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit: %w", err)
	}
	return hash, nil
}

// SetBranchHead moves a local branch reference to point at hash — used
// after committing on the checked-out branch to keep its ref current.
func (r *Repo) SetBranchHead(name string, hash plumbing.Hash) error {
	ref := plumbing.NewHashReference(BranchRef(name), hash)
	if err := r.raw.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("update branch %s: %w", name, err)
	}
	return nil
}

// FetchAll fetches every ref from the named remote.
func (r *Repo) FetchAll(ctx context.Context, remote string, auth transport.AuthMethod) error {
	err := r.raw.FetchContext(ctx, &git.FetchOptions{RemoteName: remote, Auth: auth, Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", remote, err)
	}
	return nil
}

// FastForward resets the local branch to its remote-tracking counterpart
// when doing so is a pure fast-forward (the local head is an ancestor of,
// or equal to, the remote head). If the branches have diverged it returns
// ErrNonFastForward and makes no change, implementing the "skip on
// divergence" merge policy.
func (r *Repo) FastForward(ctx context.Context, remote, branch string) error {
	localHash, err := r.ResolveRef(BranchRef(branch))
	if err != nil {
		return err
	}
	remoteHash, err := r.ResolveRef(RemoteBranchRef(remote, branch))
	if err != nil {
		return err
	}
	if remoteHash.IsZero() || remoteHash == localHash {
		return nil
	}
	if localHash.IsZero() {
		return r.CreateBranchAt(branch, remoteHash)
	}
	ancestor, err := r.isAncestor(localHash, remoteHash)
	if err != nil {
		return err
	}
	if !ancestor {
		return ErrNonFastForward
	}
	return r.SetBranchHead(branch, remoteHash)
}

// ErrNonFastForward is returned by FastForward when the local and remote
// branches have diverged; per this implementation's merge policy the
// branch is left untouched rather than merged or overwritten.
var ErrNonFastForward = errors.New("branch has diverged from its remote counterpart, skipping")

func (r *Repo) isAncestor(ancestor, descendant plumbing.Hash) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	descCommit, err := r.raw.CommitObject(descendant)
	if err != nil {
		return false, fmt.Errorf("load commit %s: %w", descendant, err)
	}
	ancestorCommit, err := r.raw.CommitObject(ancestor)
	if err != nil {
		return false, fmt.Errorf("load commit %s: %w", ancestor, err)
	}
	isAncestor, err := ancestorCommit.IsAncestor(descCommit)
	if err != nil {
		return false, fmt.Errorf("compute ancestry: %w", err)
	}
	return isAncestor, nil
}

// Push force-pushes the given local branches to remote in a single push,
// one refspec per branch. A remote that is already up-to-date is a silent
// no-op rather than an error.
func (r *Repo) Push(ctx context.Context, remote string, branches []string, auth transport.AuthMethod) error {
	remoteCfg, err := r.raw.Remote(remote)
	if err != nil {
		return fmt.Errorf("get remote %s: %w", remote, err)
	}
	var specs []config.RefSpec
	for _, b := range branches {
		specs = append(specs, config.RefSpec(fmt.Sprintf("+%s:%s", BranchRef(b), BranchRef(b))))
	}
	err = remoteCfg.PushContext(ctx, &git.PushOptions{RemoteName: remote, RefSpecs: specs, Auth: auth})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push to %s: %w", remote, err)
	}
	return nil
}

// LocalizeRemoteBranches enumerates the remote's references and, for every
// one that doesn't already have a local counterpart, creates a local
// tracking branch. Per-branch failures are logged and skipped, mirroring
// the teacher's tolerant localize-remote-branches behavior.
func (r *Repo) LocalizeRemoteBranches(ctx context.Context, remote string, auth transport.AuthMethod, log logr.Logger) error {
	refs, err := r.RemoteRefs(remote, auth)
	if err != nil {
		return err
	}
	local := map[string]bool{}
	localRefs, err := r.Refs()
	if err != nil {
		return err
	}
	for _, ref := range localRefs {
		if ref.Name().IsBranch() {
			local[ref.Name().Short()] = true
		}
	}

	// The remote advertises its own branch names (refs/heads/<name>), so
	// the short name is already the local branch name to create.
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD {
			continue
		}
		if !ref.Name().IsBranch() {
			continue
		}
		short := ref.Name().Short()
		if local[short] {
			continue
		}
		if err := r.CreateLocalTrackingBranch(remote, short); err != nil {
			log.V(1).Info("failed to localize remote branch", "branch", short, "error", err.Error())
			continue
		}
	}
	return nil
}

// ConstructSafeEmail builds a commit-safe email address out of an arbitrary
// username, matching the teacher's ConstructSafeEmail.
func ConstructSafeEmail(username, domain string) string {
	emailRegex := regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	if emailRegex.MatchString(username) {
		return username
	}

	clean := strings.ToLower(username)
	reg := regexp.MustCompile(`[^a-z0-9.\-]`)
	clean = reg.ReplaceAllString(clean, "")
	if clean == "" {
		clean = "unknown-user"
	}
	return fmt.Sprintf("%s@noreply.%s", clean, domain)
}
