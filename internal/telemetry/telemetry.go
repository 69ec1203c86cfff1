// Copyright 2026 The Velo Rift Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry is the interposer's opt-in per-syscall-kind counter:
// zero cost when disabled (a single relaxed-equivalent load of an enable
// flag gates every increment), with an at-exit JSON dump when enabled.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
)

// SyscallKind enumerates the interposed POSIX entry points, collapsing
// platform variants (open/openat/open64, stat/lstat/fstat/fstatat, ...)
// into one counter per logical operation so the dump stays readable.
type SyscallKind int

const (
	Open SyscallKind = iota
	Close
	Read
	Write
	Lseek
	Stat
	Access
	Opendir
	Readdir
	Closedir
	Getcwd
	Chdir
	Readlink
	Realpath
	Unlink
	Rmdir
	Mkdir
	Rename
	Link
	Symlink
	Utimensat
	Ftruncate
	Mmap
	Munmap
	Dup
	Execve
	Dlopen

	numKinds
)

var kindNames = [numKinds]string{
	Open:      "open",
	Close:     "close",
	Read:      "read",
	Write:     "write",
	Lseek:     "lseek",
	Stat:      "stat",
	Access:    "access",
	Opendir:   "opendir",
	Readdir:   "readdir",
	Closedir:  "closedir",
	Getcwd:    "getcwd",
	Chdir:     "chdir",
	Readlink:  "readlink",
	Realpath:  "realpath",
	Unlink:    "unlink",
	Rmdir:     "rmdir",
	Mkdir:     "mkdir",
	Rename:    "rename",
	Link:      "link",
	Symlink:   "symlink",
	Utimensat: "utimensat",
	Ftruncate: "ftruncate",
	Mmap:      "mmap",
	Munmap:    "munmap",
	Dup:       "dup",
	Execve:    "execve",
	Dlopen:    "dlopen",
}

func (k SyscallKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Counters holds one atomic counter per SyscallKind plus the enable flag
// gating every Count call. The zero value is a valid, disabled Counters.
type Counters struct {
	enabled atomic.Bool
	counts  [numKinds]atomic.Uint64
}

// New returns a disabled Counters. Call Enable to turn it on.
func New() *Counters {
	return &Counters{}
}

// Enable turns counting on or off. Safe to call concurrently with Count.
func (c *Counters) Enable(on bool) {
	c.enabled.Store(on)
}

// Enabled reports whether counting is currently on.
func (c *Counters) Enabled() bool {
	return c.enabled.Load()
}

// Count increments the counter for kind if telemetry is enabled. The
// gating check is one atomic load, so a disabled Counters costs a single
// predictable branch on every interposed call.
func (c *Counters) Count(kind SyscallKind) {
	if !c.enabled.Load() {
		return
	}
	if kind < 0 || int(kind) >= len(c.counts) {
		return
	}
	c.counts[kind].Add(1)
}

// Snapshot is the JSON-serializable dump shape: syscall name to count,
// omitting kinds that were never observed.
type Snapshot map[string]uint64

// Snapshot returns the current counts, keyed by syscall name.
func (c *Counters) Snapshot() Snapshot {
	snap := make(Snapshot)
	for k := SyscallKind(0); k < numKinds; k++ {
		if n := c.counts[k].Load(); n > 0 {
			snap[k.String()] = n
		}
	}
	return snap
}

// DumpOnExit writes the current snapshot as JSON to path. The shim calls
// it from its SIGTERM/SIGINT handler, since Go's c-shared mode has no
// true destructor hook to tie this to. A write failure is
// swallowed beyond the returned error; the caller is exiting regardless
// and has nowhere better to report it.
func (c *Counters) DumpOnExit(path string) error {
	if !c.Enabled() {
		return nil
	}

	b, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("telemetry: marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("telemetry: write dump %s: %w", path, err)
	}
	return nil
}

// DefaultDumpPath is the exit-time dump location named in the spec's
// telemetry section, parameterized by pid so multiple injected processes
// on the same host don't clobber each other's dump.
func DefaultDumpPath(pid int) string {
	return fmt.Sprintf("/tmp/vrift-profile-%d.json", pid)
}
