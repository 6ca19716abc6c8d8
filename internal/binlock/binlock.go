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

// Package binlock provides the process-wide advisory lock a Client holds
// over its repository's working directory. Only one process may operate on
// a given binsync checkout at a time; a second process that tries to open
// the same path fails fast instead of corrupting the worktree.
package binlock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLockHeld is returned by Acquire when another process already holds
// the lock on the same path.
var ErrLockHeld = errors.New("binsync: repository is locked by another process")

// Lock is a held process-wide lock. Release it with Close.
type Lock struct {
	fl   *flock.Flock
	path string
}

// Acquire takes an exclusive, non-blocking lock on a sentinel file inside
// dir (".binsync.lock"). It returns ErrLockHeld immediately if another
// process already holds it — there is no wait-and-retry, mirroring the
// zero-timeout acquire() the client used to use against a local
// filelock.FileLock.
func Acquire(dir string) (*Lock, error) {
	path := lockPath(dir)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (path: %s)", ErrLockHeld, path)
	}
	return &Lock{fl: fl, path: path}, nil
}

func lockPath(dir string) string {
	return dir + "/.binsync.lock"
}

// Path returns the filesystem path of the lock's sentinel file.
func (l *Lock) Path() string { return l.path }

// Close releases the lock.
func (l *Lock) Close() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
