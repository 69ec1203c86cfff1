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

//go:build cgo

package main

import "sync"

// fdKinds tracks which open descriptors the shim itself must special-case,
// beyond what lives in the engine's own FDTable. A read-only virtual
// open never gets a real OS descriptor at all (its bytes live in the
// engine's in-memory CAS mapping), so read/write/lseek/close on that
// number must always reach the engine. A copy-on-write open, by
// contrast, really is backed by a real descriptor on the staging file —
// ordinary read/write/lseek on it already work by falling through to the
// real syscall, but close must still notify the engine so the
// ManifestReingest round trip happens. Keeping this mapping here, rather
// than teaching the engine about real OS descriptors, keeps
// internal/interposer's FDTable as the single source of truth for
// virtual-read bookkeeping while letting the shim own the one piece of
// state that is genuinely ABI-specific.
var fdKinds = struct {
	mu       sync.Mutex
	readFDs  map[int]struct{}
	writeFDs map[int]int // real fd -> engine's synthetic fd
}{
	readFDs:  make(map[int]struct{}),
	writeFDs: make(map[int]int),
}

func markReadFD(fd int) {
	fdKinds.mu.Lock()
	fdKinds.readFDs[fd] = struct{}{}
	fdKinds.mu.Unlock()
}

func isReadFD(fd int) bool {
	fdKinds.mu.Lock()
	_, ok := fdKinds.readFDs[fd]
	fdKinds.mu.Unlock()
	return ok
}

func clearReadFD(fd int) {
	fdKinds.mu.Lock()
	delete(fdKinds.readFDs, fd)
	fdKinds.mu.Unlock()
}

func markWriteFD(realFD, syntheticFD int) {
	fdKinds.mu.Lock()
	fdKinds.writeFDs[realFD] = syntheticFD
	fdKinds.mu.Unlock()
}

func takeWriteFD(realFD int) (syntheticFD int, ok bool) {
	fdKinds.mu.Lock()
	defer fdKinds.mu.Unlock()
	syntheticFD, ok = fdKinds.writeFDs[realFD]
	if ok {
		delete(fdKinds.writeFDs, realFD)
	}
	return syntheticFD, ok
}
