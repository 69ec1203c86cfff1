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
#include <unistd.h>
#include <dlfcn.h>
#include <sys/stat.h>
#include <stdlib.h>
#include <string.h>

typedef int (*dup_fn)(int);
typedef int (*dup2_fn)(int, int);
typedef int (*access_fn)(const char *, int);
typedef int (*faccessat_fn)(int, const char *, int, int);
typedef int (*chdir_fn)(const char *);
typedef int (*fchdir_fn)(int);
typedef char *(*getcwd_fn)(char *, size_t);
typedef ssize_t (*readlink_fn)(const char *, char *, size_t);
typedef char *(*realpath_fn)(const char *, char *);
typedef int (*link_fn)(const char *, const char *);
typedef int (*linkat_fn)(int, const char *, int, const char *, int);
typedef int (*symlink_fn)(const char *, const char *);
// utimensat's times parameter is a pointer to a two-element struct timespec
// array; declaring it void* avoids needing <sys/time.h>'s full struct
// timespec layout here since this trampoline only forwards the pointer.
typedef int (*utimensat_fn)(int, const char *, const void *, int);
typedef void *(*mmap_fn)(void *, size_t, int, int, int, off_t);
typedef int (*munmap_fn)(void *, size_t);

static int vrift_call_dup(void *fn, int fd) {
	return ((dup_fn)fn)(fd);
}

static int vrift_call_dup2(void *fn, int oldfd, int newfd) {
	return ((dup2_fn)fn)(oldfd, newfd);
}

static int vrift_call_access(void *fn, const char *path, int mode) {
	return ((access_fn)fn)(path, mode);
}

static int vrift_call_faccessat(void *fn, int dirfd, const char *path, int mode, int flags) {
	return ((faccessat_fn)fn)(dirfd, path, mode, flags);
}

static int vrift_call_chdir(void *fn, const char *path) {
	return ((chdir_fn)fn)(path);
}

static int vrift_call_fchdir(void *fn, int fd) {
	return ((fchdir_fn)fn)(fd);
}

static char *vrift_call_getcwd(void *fn, char *buf, size_t size) {
	return ((getcwd_fn)fn)(buf, size);
}

static ssize_t vrift_call_readlink(void *fn, const char *path, char *buf, size_t size) {
	return ((readlink_fn)fn)(path, buf, size);
}

static char *vrift_call_realpath(void *fn, const char *path, char *resolved) {
	return ((realpath_fn)fn)(path, resolved);
}

static int vrift_call_link(void *fn, const char *oldpath, const char *newpath) {
	return ((link_fn)fn)(oldpath, newpath);
}

static int vrift_call_linkat(void *fn, int olddirfd, const char *oldpath, int newdirfd, const char *newpath, int flags) {
	return ((linkat_fn)fn)(olddirfd, oldpath, newdirfd, newpath, flags);
}

static int vrift_call_symlink(void *fn, const char *target, const char *linkpath) {
	return ((symlink_fn)fn)(target, linkpath);
}

static int vrift_call_utimensat(void *fn, int dirfd, const char *path, const void *times, int flags) {
	return ((utimensat_fn)fn)(dirfd, path, times, flags);
}

static void *vrift_call_mmap(void *fn, void *addr, size_t length, int prot, int flags, int fd, off_t offset) {
	return ((mmap_fn)fn)(addr, length, prot, flags, fd, offset);
}

static int vrift_call_munmap(void *fn, void *addr, size_t length) {
	return ((munmap_fn)fn)(addr, length);
}
*/
import "C"

import (
	"syscall"
	"unsafe"

	"github.com/velo-rift/vrift/internal/interposer"
)

var (
	realDup       = newOnceCell("dup")
	realDup2      = newOnceCell("dup2")
	realAccess    = newOnceCell("access")
	realFaccessat = newOnceCell("faccessat")
	realChdir     = newOnceCell("chdir")
	realFchdir    = newOnceCell("fchdir")
	realGetcwd    = newOnceCell("getcwd")
	realReadlink  = newOnceCell("readlink")
	realRealpath  = newOnceCell("realpath")
	realLink      = newOnceCell("link")
	realLinkat    = newOnceCell("linkat")
	realSymlink   = newOnceCell("symlink")
	realUtimensat = newOnceCell("utimensat")
	realMmap      = newOnceCell("mmap")
	realMunmap    = newOnceCell("munmap")
)

// vrift_dup2 is the only dup variant the engine's FDTable.Dup models
// directly, since it is the one that names both descriptor numbers; a
// plain dup(2) has no destination to pass the engine, so a virtual fd
// reaching vrift_dup below is deliberately left as a real passthrough
// (documented limitation: dup() of a virtual read fd yields a second
// independent engine-unaware descriptor number that will not resolve).
//
//export vrift_dup
func vrift_dup(fd C.int) C.int {
	return C.int(C.vrift_call_dup(realDup.get(), fd))
}

//export vrift_dup2
func vrift_dup2(oldfd, newfd C.int) C.int {
	if isReadFD(int(oldfd)) {
		if eng().Dup(int(oldfd), int(newfd)) {
			markReadFD(int(newfd))
			return newfd
		}
	}
	return C.int(C.vrift_call_dup2(realDup2.get(), oldfd, newfd))
}

// vrift_dlopen and vrift_dlsym are named in spec's interposed minimum set
// only so a target process's own dlopen/dlsym calls cannot accidentally
// resolve a *second* copy of libc's real functions and bypass the
// one-time resolution cells above; neither one has any virtual-path
// concept to dispatch on, so both are unconditional passthrough to the
// real dynamic loader.
//
//export vrift_dlopen
func vrift_dlopen(path *C.char, flags C.int) unsafe.Pointer {
	return C.dlopen(path, flags)
}

//export vrift_dlsym
func vrift_dlsym(handle unsafe.Pointer, symbol *C.char) unsafe.Pointer {
	return C.dlsym(handle, symbol)
}

// vrift_access answers a virtual path's existence check straight from the
// manifest via eng().Stat, the same lookup stat uses; it doesn't model
// per-permission-bit checks (R_OK/W_OK/X_OK) because the manifest carries
// only a mode field copied from ingest time, not live kernel permission
// semantics, so any existing virtual entry answers yes.
//
//export vrift_access
func vrift_access(path *C.char, mode C.int) C.int {
	goPath := C.GoString(path)
	_, handled, err := eng().Stat(goPath, cwd())
	if !handled {
		return C.int(C.vrift_call_access(realAccess.get(), path, mode))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	return 0
}

//export vrift_faccessat
func vrift_faccessat(dirfd C.int, path *C.char, mode, flags C.int) C.int {
	goPath := C.GoString(path)
	_, handled, err := eng().Stat(goPath, cwd())
	if !handled {
		return C.int(C.vrift_call_faccessat(realFaccessat.get(), dirfd, path, mode, flags))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	return 0
}

// vrift_chdir, vrift_fchdir and vrift_getcwd are pure passthrough: the
// shim never caches a virtual cwd of its own, since every other
// entrypoint that needs one calls the real os.Getwd() per call through
// cwd() (see bootstrap.go). A real chdir/fchdir is therefore automatically
// consistent with every subsequent relative-path lookup without any
// bookkeeping here.
//
//export vrift_chdir
func vrift_chdir(path *C.char) C.int {
	return C.int(C.vrift_call_chdir(realChdir.get(), path))
}

//export vrift_fchdir
func vrift_fchdir(fd C.int) C.int {
	return C.int(C.vrift_call_fchdir(realFchdir.get(), fd))
}

//export vrift_getcwd
func vrift_getcwd(buf *C.char, size C.size_t) *C.char {
	return C.vrift_call_getcwd(realGetcwd.get(), buf, size)
}

// vrift_readlink always reports EINVAL for a classified virtual path: the
// manifest has no symlink concept (see vrift_lstat), so a virtual path is
// never a symlink and readlink on it is, correctly, not-a-symlink rather
// than not-found.
//
//export vrift_readlink
func vrift_readlink(path *C.char, buf *C.char, size C.size_t) C.ssize_t {
	goPath := C.GoString(path)
	_, handled, _ := eng().Stat(goPath, cwd())
	if handled {
		setErrno(syscall.EINVAL)
		return -1
	}
	return C.ssize_t(C.vrift_call_readlink(realReadlink.get(), path, buf, size))
}

// vrift_realpath resolves a classified virtual path to its already-
// canonical form (vrift's paths are canonicalized on every lookup, so the
// virtual path itself is its own realpath) and copies it into resolved if
// non-NULL, or a newly C.malloc'd buffer otherwise, matching real
// realpath(3)'s two calling conventions.
//
//export vrift_realpath
func vrift_realpath(path *C.char, resolved *C.char) *C.char {
	goPath := C.GoString(path)
	canon := interposer.Canonicalize(goPath, cwd())
	_, handled, _ := eng().Stat(goPath, cwd())
	if !handled {
		return C.vrift_call_realpath(realRealpath.get(), path, resolved)
	}

	out := resolved
	if out == nil {
		out = (*C.char)(C.malloc(C.size_t(len(canon) + 1)))
	}
	cCanon := C.CString(canon)
	defer C.free(unsafe.Pointer(cCanon))
	C.strncpy(out, cCanon, C.size_t(len(canon)+1))
	return out
}

// vrift_link, vrift_linkat and vrift_symlink are pure passthrough: vrift's
// CAS/manifest model has no notion of a hard or symbolic link distinct
// from its single canonical path per entry, so linking within the virtual
// tree has no sensible semantics to dispatch on here. A real call against
// a virtual path simply fails with whatever error the real filesystem
// gives for a nonexistent physical path, which is an acceptable limitation
// given symlinks are already a best-effort Non-goal.
//
//export vrift_link
func vrift_link(oldpath, newpath *C.char) C.int {
	return C.int(C.vrift_call_link(realLink.get(), oldpath, newpath))
}

//export vrift_linkat
func vrift_linkat(olddirfd C.int, oldpath *C.char, newdirfd C.int, newpath *C.char, flags C.int) C.int {
	return C.int(C.vrift_call_linkat(realLinkat.get(), olddirfd, oldpath, newdirfd, newpath, flags))
}

//export vrift_symlink
func vrift_symlink(target, linkpath *C.char) C.int {
	return C.int(C.vrift_call_symlink(realSymlink.get(), target, linkpath))
}

// vrift_utimensat is pure passthrough: manifest mtimes are updated only
// through ingest (daemon-side snapshot) or through OpenWrite's reingest on
// close, never through a direct utime syscall, so there is no virtual
// mtime to update here. A caller touching a virtual path's mtime directly
// sees whatever the real filesystem does with a nonexistent physical path.
//
//export vrift_utimensat
func vrift_utimensat(dirfd C.int, path *C.char, times unsafe.Pointer, flags C.int) C.int {
	return C.int(C.vrift_call_utimensat(realUtimensat.get(), dirfd, path, times, flags))
}

// vrift_mmap and vrift_munmap are pure passthrough. A read-only virtual
// fd's content lives in Go-owned memory (FdEntry.Data), not a real kernel
// file descriptor, so it has nothing mmap(2) can map; giving it real mmap
// semantics would require backing every virtual open with a memfd, which
// is a larger redesign than this pass takes on. A caller that mmaps a
// virtual fd today gets whatever the real mmap does with that fd number,
// which is a known, documented limitation rather than a silent gap.
//
//export vrift_mmap
func vrift_mmap(addr unsafe.Pointer, length C.size_t, prot, flags, fd C.int, offset C.off_t) unsafe.Pointer {
	return C.vrift_call_mmap(realMmap.get(), addr, length, prot, flags, fd, offset)
}

//export vrift_munmap
func vrift_munmap(addr unsafe.Pointer, length C.size_t) C.int {
	return C.int(C.vrift_call_munmap(realMunmap.get(), addr, length))
}
