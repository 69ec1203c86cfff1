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

/*
#define _GNU_SOURCE
#include <dlfcn.h>
#include <errno.h>
#include <stdlib.h>

static void *vrift_resolve_real(const char *name) {
	return dlsym(RTLD_NEXT, name);
}

static void vrift_set_errno(int e) {
	errno = e;
}
*/
import "C"

import (
	"sync"
	"syscall"
	"unsafe"
)

// onceCell is the "one-time resolution cell" spec §9 calls for: the real
// libc function behind a given symbol is looked up exactly once and the
// resolved pointer treated as immutable afterwards, so the hot path never
// pays dlsym's cost again.
type onceCell struct {
	once sync.Once
	name string
	ptr  unsafe.Pointer
}

func newOnceCell(name string) *onceCell {
	return &onceCell{name: name}
}

// get resolves the cell on first use and returns the cached pointer on
// every subsequent call.
func (c *onceCell) get() unsafe.Pointer {
	c.once.Do(func() {
		cname := C.CString(c.name)
		defer C.free(unsafe.Pointer(cname))
		c.ptr = C.vrift_resolve_real(cname)
	})
	return c.ptr
}

// setErrno reports e as the calling thread's errno, the way every failed
// exported entry point below signals failure back to its caller.
func setErrno(e syscall.Errno) {
	C.vrift_set_errno(C.int(e))
}
