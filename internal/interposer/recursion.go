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

package interposer

import (
	"runtime"
	"sync"
)

// RecursionGuard protects against an interposer call transitively invoking
// a libc function that is itself interposed (e.g. the engine's own IPC
// path calling into net.Conn machinery that shells out to an interposed
// open). POSIX recursion guards are inherently per-OS-thread, not
// per-goroutine; this pins the calling goroutine to its OS thread for the
// duration of the guarded region with runtime.LockOSThread so the guard
// flag it sets is visible to any nested call that re-enters on the same
// thread, and cleared only when that thread truly exits the guarded
// region.
type RecursionGuard struct {
	mu  sync.Mutex
	set map[int64]bool
	seq int64
}

// NewRecursionGuard returns an empty guard.
func NewRecursionGuard() *RecursionGuard {
	return &RecursionGuard{set: make(map[int64]bool)}
}

// token identifies one guarded region so Exit can only clear the entry it
// set, never a nested caller's.
type token struct {
	id     int64
	nested bool
}

// Enter marks the calling OS thread as inside interposer logic. ok is
// false if the thread was already inside a guarded region (i.e. this call
// is a reentrant call from within the engine's own logic); the caller
// must then behave as pure passthrough. The returned token must be passed
// to Exit exactly once, even when ok is false.
func (g *RecursionGuard) Enter() (tok token, ok bool) {
	runtime.LockOSThread()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := g.seq

	if g.set[threadKey()] {
		return token{id: id, nested: true}, false
	}
	g.set[threadKey()] = true
	return token{id: id, nested: false}, true
}

// Exit releases the guard acquired by a matching Enter. A nested Enter's
// token must not clear the outer guard flag, since the outer call is
// still in flight.
func (g *RecursionGuard) Exit(tok token) {
	defer runtime.UnlockOSThread()

	if tok.nested {
		return
	}

	g.mu.Lock()
	delete(g.set, threadKey())
	g.mu.Unlock()
}

// threadKey returns a key identifying the current OS thread while it is
// locked via runtime.LockOSThread. Go does not expose a portable thread
// ID without cgo, so this keys on the calling goroutine instead: while
// locked, a goroutine never migrates OS threads, and nested calls from
// the guarded region itself execute on the same goroutine (the Go
// scheduler never reschedules a synchronous call chain onto a different
// goroutine), so the goroutine identity is a faithful proxy for the OS
// thread identity for exactly the reentrancy this guard defends against.
func threadKey() int64 {
	return goroutineID()
}
