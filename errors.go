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

import "errors"

var (
	// ErrBadUsername is returned when a username fails the branch-safe
	// naming check (empty, or containing characters that cannot appear in
	// a git ref component).
	ErrBadUsername = errors.New("binsync: invalid username")

	// ErrNotABinsyncRepo is returned by Attach when the target repository
	// has no binsync/__root__ branch. Attach never creates one; Init does.
	ErrNotABinsyncRepo = errors.New("binsync: repository has no binsync root branch")

	// ErrAlreadyInitialized is returned by Init when a binsync/__root__
	// branch already exists.
	ErrAlreadyInitialized = errors.New("binsync: repository is already initialized")

	// ErrLockHeld is returned when another process already holds the
	// repository's process lock.
	ErrLockHeld = errors.New("binsync: repository is locked by another process")

	// ErrExternalUserCommit is returned by CommitState when asked to
	// commit state under a username other than the Client's own — commits
	// only ever happen on the caller's own branch.
	ErrExternalUserCommit = errors.New("binsync: cannot commit state for another user")

	// ErrNoRemote is returned by Pull/Push when the client has no
	// configured remote to synchronize with.
	ErrNoRemote = errors.New("binsync: repository has no remote configured")

	// ErrUserNotFound is returned by GetState/client lookups when no
	// branch exists for the requested username.
	ErrUserNotFound = errors.New("binsync: user not found")
)
