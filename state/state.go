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

// Package state defines the contract between the client engine and the
// host application's annotation format. The engine never interprets the
// bytes it commits or reads; it only knows how to hand a tree to a Parser
// and a working-tree writer to a State's Dump. This package also ships a small
// TOML-backed reference implementation used by this repository's own tests
// and CLI.
package state

import "errors"

// ErrMetadataNotFound is returned by a Parser when a branch's tree has no
// state to load — e.g. a user branch that was created but never committed
// to, or a root branch consulted before anyone has attached.
var ErrMetadataNotFound = errors.New("state: metadata not found in tree")

// Tree is the minimal read-only view of a commit's tree a Parser needs.
// The engine wraps each go-git tree in a small adapter that reads blobs
// through *gitrepo.Repo to satisfy it.
type Tree interface {
	// File returns the contents of path, or an error if it does not exist.
	File(path string) ([]byte, error)
}

// Index is the minimal write surface State.Dump needs to stage files for the
// next commit. It writes directly into the working tree; the engine stages
// and commits afterward.
type Index interface {
	// WriteFile writes data to a path relative to the repository root.
	WriteFile(path string, data []byte) error
}

// State is an opaque, per-user snapshot of annotations. The engine tracks
// only whether it's Dirty (there is uncommitted local state to flush) and
// which User it belongs to; everything else is host-defined.
type State interface {
	// User is the username this snapshot belongs to.
	User() string
	// Dirty reports whether there are local changes not yet dumped.
	Dirty() bool
	// ClearDirty marks the snapshot as flushed. The engine calls this
	// after the dumped files have been committed, not after Dump alone.
	ClearDirty()
	// Dump writes the snapshot's contents into idx under the user's
	// namespace (conventionally "<user>/" relative to the repo root).
	Dump(idx Index) error
}

// BlobLoader lets a Parser read arbitrary blobs from a tree beyond the
// ones it's handed directly — the Go analogue of the bound client handle
// the original implementation passed into its state module for ad hoc
// `load_file_from_tree` calls.
type BlobLoader interface {
	LoadFileFromTree(tree Tree, path string) ([]byte, error)
}

// Parser builds a State from a user's branch tree. version is nil for a
// live (branch-head) parse, or the commit hash string being replayed for a
// historical parse.
type Parser func(tree Tree, user string, version *string, loader BlobLoader) (State, error)

// EmptyStateFactory builds a fresh, empty State for username with no prior
// commits. The engine calls this only when the caller's own branch has
// never published metadata yet — the very first read of a brand-new user
// branch, before any commit_state call — rather than treating that as a
// parse failure.
type EmptyStateFactory func(username string) State

// Metadata holds the identity fields every binsync user branch publishes
// in its metadata.toml, independent of whatever host-specific annotation
// format rides alongside it.
type Metadata struct {
	User      User
	ToolName  string
	ToolVer   string
	SaveTime  int64
}

// User identifies a binsync participant.
type User struct {
	Username string
}

// FromMetadata builds a User from a decoded metadata mapping, the Go
// analogue of the original User.from_metadata(metadata) classmethod.
func FromMetadata(raw map[string]any) (User, error) {
	name, ok := raw["user"].(string)
	if !ok || name == "" {
		return User{}, errors.New("state: metadata missing \"user\" field")
	}
	return User{Username: name}, nil
}

// ParseMetadata builds a full Metadata from a decoded metadata.toml
// mapping. ToolName, ToolVer, and SaveTime are best-effort: a branch
// written by a host application that doesn't populate them simply gets
// zero values rather than a parse failure.
func ParseMetadata(raw map[string]any) (Metadata, error) {
	user, err := FromMetadata(raw)
	if err != nil {
		return Metadata{}, err
	}
	m := Metadata{User: user}
	if v, ok := raw["tool_name"].(string); ok {
		m.ToolName = v
	}
	if v, ok := raw["tool_version"].(string); ok {
		m.ToolVer = v
	}
	switch v := raw["save_time"].(type) {
	case int64:
		m.SaveTime = v
	case int:
		m.SaveTime = int64(v)
	}
	return m, nil
}
