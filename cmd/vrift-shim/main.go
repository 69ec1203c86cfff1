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

// Command vrift-shim builds as a -buildmode=c-shared library loaded into
// a target process via LD_PRELOAD (Linux) or DYLD_INSERT_LIBRARIES
// (macOS). It exports C-ABI functions named after the POSIX entry points
// spec.md §4.5 lists as the interposed minimum set; each one resolves the
// real libc implementation once via dlsym(RTLD_NEXT, ...) and otherwise
// delegates virtual-path calls to the cgo-free internal/interposer
// engine. main is never the actual entry point in c-shared mode — the
// dynamic loader runs the package's init funcs as the library is mapped
// in — but the toolchain requires package main to have one.
package main

import "C"

func main() {}
