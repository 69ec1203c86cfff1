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

// Package interposer is the pure-Go engine behind the injected shim: path
// routing and classification, the recursion guard, the file-descriptor
// table, copy-on-write break-link bookkeeping, and stat-hot-path dispatch
// against the mmap catalog. It has no cgo dependency and no knowledge of
// the C ABI; cmd/vrift-shim is the thin cgo layer that resolves real libc
// entry points via dlsym and calls into this engine for virtual paths.
package interposer

import "sync/atomic"

// State is the engine's initialization state machine. Every shimmed entry
// point must consult it before touching any engine-owned state.
type State int32

const (
	// Uninit is the state before any static constructor has run.
	Uninit State = iota
	// Bootstrapping is set by the static constructor before the engine's
	// own state (catalog mapping, FD table, IPC client) is assembled.
	// Every entry point must pass through to the real implementation
	// untouched while in this state.
	Bootstrapping
	// Ready means the engine is fully assembled and safe to dispatch
	// virtual-path logic against.
	Ready
	// Tripped is an absorbing failure state entered after a fatal
	// inconsistency (e.g. dlsym failure, a corrupt catalog mapping that
	// cannot even be re-opened). Once Tripped, behavior is universal
	// passthrough for the remaining lifetime of the process.
	Tripped
)

func (s State) String() string {
	switch s {
	case Uninit:
		return "uninit"
	case Bootstrapping:
		return "bootstrapping"
	case Ready:
		return "ready"
	case Tripped:
		return "tripped"
	default:
		return "unknown"
	}
}

// stateBox holds the engine's state machine as a single atomic value so
// every shimmed entry point can check it with one lock-free load.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) get() State {
	return State(b.v.Load())
}

func (b *stateBox) set(s State) {
	b.v.Store(int32(s))
}

// transitionToReady moves Uninit or Bootstrapping to Ready. It is a no-op
// if already Tripped, since Tripped is absorbing.
func (b *stateBox) transitionToReady() {
	for {
		cur := b.get()
		if cur == Tripped || cur == Ready {
			return
		}
		if b.v.CompareAndSwap(int32(cur), int32(Ready)) {
			return
		}
	}
}

// trip forces the engine into the absorbing Tripped state regardless of
// current state.
func (b *stateBox) trip() {
	b.v.Store(int32(Tripped))
}
