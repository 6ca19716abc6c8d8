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

package state

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// toolName and toolVersion are recorded in every metadata.toml this
// package writes, so a reader can tell which plugin version produced a
// given snapshot (Metadata.ToolName/ToolVer on the read side).
const (
	toolName    = "binsync"
	toolVersion = "0.1"
)

const (
	metadataFile    = "metadata.toml"
	annotationsFile = "annotations.toml"
)

// LoadTOMLFromTree decodes path from tree as a generic TOML mapping,
// translating a missing file into ErrMetadataNotFound so callers can treat
// "branch exists but nothing committed yet" as a normal, expected case
// rather than a parse failure.
func LoadTOMLFromTree(tree Tree, path string) (map[string]any, error) {
	raw, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%v)", ErrMetadataNotFound, path, err)
	}

	out := map[string]any{}
	if _, err := toml.Decode(string(raw), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// DumpTOML encodes v and writes it to path through idx.
func DumpTOML(idx Index, path string, v any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return idx.WriteFile(path, buf.Bytes())
}

// TOMLState is a minimal reference State implementation backed by two
// files per user: metadata.toml (identity) and annotations.toml (a flat
// string-keyed annotation map). Host applications are expected to bring
// their own richer format; this one exists so the engine's own tests and
// CLI have something concrete to drive through Parse/Dump.
type TOMLState struct {
	mu          sync.Mutex
	user        string
	dirty       bool
	Annotations map[string]string

	// SavedAt is the Unix timestamp recorded in metadata.toml by the most
	// recent Dump, or zero for a state that's never been dumped.
	SavedAt int64
}

// NewTOMLState creates an empty, clean state for user.
func NewTOMLState(user string) *TOMLState {
	return &TOMLState{user: user, Annotations: map[string]string{}}
}

func (s *TOMLState) User() string { return s.user }

func (s *TOMLState) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *TOMLState) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// SetAnnotation records an annotation and marks the state dirty.
func (s *TOMLState) SetAnnotation(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Annotations[key] = value
	s.dirty = true
}

// Dump writes metadata.toml and annotations.toml under "<user>/" in idx.
func (s *TOMLState) Dump(idx Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := s.user + "/"
	s.SavedAt = time.Now().Unix()
	metadata := map[string]any{
		"user":         s.user,
		"tool_name":    toolName,
		"tool_version": toolVersion,
		"save_time":    s.SavedAt,
	}
	if err := DumpTOML(idx, prefix+metadataFile, metadata); err != nil {
		return err
	}
	annotations := map[string]any{}
	for k, v := range s.Annotations {
		annotations[k] = v
	}
	return DumpTOML(idx, prefix+annotationsFile, annotations)
}

// ParseTOMLState is a Parser that reads metadata.toml + annotations.toml
// for user out of tree, building a TOMLState.
func ParseTOMLState(tree Tree, user string, _ *string, _ BlobLoader) (State, error) {
	prefix := user + "/"
	raw, err := LoadTOMLFromTree(tree, prefix+metadataFile)
	if err != nil {
		return nil, err
	}
	metadata, err := ParseMetadata(raw)
	if err != nil {
		return nil, err
	}

	annotations, err := LoadTOMLFromTree(tree, prefix+annotationsFile)
	if err != nil {
		if errors.Is(err, ErrMetadataNotFound) {
			annotations = map[string]any{}
		} else {
			return nil, err
		}
	}

	s := NewTOMLState(user)
	s.SavedAt = metadata.SaveTime
	for k, v := range annotations {
		if str, ok := v.(string); ok {
			s.Annotations[k] = str
		}
	}
	return s, nil
}
