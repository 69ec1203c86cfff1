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
#include <sys/stat.h>
#include <sys/types.h>

typedef int (*stat_fn)(const char *, struct stat *);
typedef int (*fstat_fn)(int, struct stat *);
typedef int (*fstatat_fn)(int, const char *, struct stat *, int);

static int vrift_call_stat(void *fn, const char *path, struct stat *buf) {
	return ((stat_fn)fn)(path, buf);
}

static int vrift_call_fstat(void *fn, int fd, struct stat *buf) {
	return ((fstat_fn)fn)(fd, buf);
}

static int vrift_call_fstatat(void *fn, int dirfd, const char *path, struct stat *buf, int flags) {
	return ((fstatat_fn)fn)(dirfd, path, buf, flags);
}
*/
import "C"

import (
	"syscall"

	"github.com/velo-rift/vrift/internal/interposer"
)

var realStat = newOnceCell("stat")
var realLstat = newOnceCell("lstat")
var realFstat = newOnceCell("fstat")
var realFstatat = newOnceCell("fstatat")

// fillStat copies the engine's platform-independent StatInfo into the
// subset of struct stat fields a build tool's metadata check actually
// reads; atime/ctime/blksize are left zeroed, matching the hot-path
// intent of serving the common case (size, mtime, mode, type) without an
// IPC round trip rather than reproducing every field a real stat(2) call
// would populate.
func fillStat(buf *C.struct_stat, info interposer.StatInfo) {
	*buf = C.struct_stat{}
	buf.st_size = C.off_t(info.Size)
	buf.st_mtime = C.time_t(info.Mtime)
	buf.st_dev = C.dev_t(info.Dev)
	buf.st_ino = C.ino_t(info.Ino)
	buf.st_nlink = C.nlink_t(info.Nlink)
	mode := info.Mode & 0o7777
	if info.IsDir {
		mode |= syscall.S_IFDIR
	} else {
		mode |= syscall.S_IFREG
	}
	buf.st_mode = C.mode_t(mode)
}

func statCommon(path *C.char, buf *C.struct_stat, real *onceCell) C.int {
	goPath := C.GoString(path)
	info, handled, err := eng().Stat(goPath, cwd())
	if !handled {
		return C.int(C.vrift_call_stat(real.get(), path, buf))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	fillStat(buf, info)
	return 0
}

//export vrift_stat
func vrift_stat(path *C.char, buf *C.struct_stat) C.int {
	return statCommon(path, buf, realStat)
}

//export vrift_lstat
func vrift_lstat(path *C.char, buf *C.struct_stat) C.int {
	// The engine's manifest has no symlink concept (spec's CAS model is
	// regular-file-and-directory only), so lstat and stat share the same
	// virtual-path resolution; only the physical-passthrough branch below
	// differs, calling the real lstat rather than stat.
	goPath := C.GoString(path)
	info, handled, err := eng().Stat(goPath, cwd())
	if !handled {
		return C.int(C.vrift_call_stat(realLstat.get(), path, buf))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	fillStat(buf, info)
	return 0
}

//export vrift_fstat
func vrift_fstat(fd C.int, buf *C.struct_stat) C.int {
	// A read-only virtual fd never obtained a real OS descriptor, so
	// fstat on it must be served from the StatInfo snapshot Engine.Fstat
	// captured at open time rather than a real fstat(2) on a number the
	// kernel never opened. A copy-on-write write fd is real (the shim
	// opened the staging file directly in vrift_open), so it is not
	// marked as a read fd and falls through to the real syscall here,
	// which already answers correctly.
	goFD := int(fd)
	if isReadFD(goFD) {
		info, handled, err := eng().Fstat(goFD)
		if handled {
			if err != nil {
				setErrno(err.(interposer.Errno).Err)
				return -1
			}
			fillStat(buf, info)
			return 0
		}
	}
	return C.int(C.vrift_call_fstat(realFstat.get(), fd, buf))
}

// vrift_fstatat covers both stat and lstat semantics depending on
// AT_SYMLINK_NOFOLLOW, same as the real fstatat; dirfd is ignored for the
// same reason vrift_openat ignores it (see entrypoints_open.go).
//
//export vrift_fstatat
func vrift_fstatat(dirfd C.int, path *C.char, buf *C.struct_stat, flags C.int) C.int {
	goPath := C.GoString(path)
	info, handled, err := eng().Stat(goPath, cwd())
	if !handled {
		return C.int(C.vrift_call_fstatat(realFstatat.get(), dirfd, path, buf, flags))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	fillStat(buf, info)
	return 0
}

// The __xstat/__lxstat/__fxstat family is glibc's versioned symbol scheme
// for stat/lstat/fstat (the "ver" argument selects the struct stat ABI
// revision, always 1 in practice on modern glibc); callers linked against
// older glibc headers resolve these names via dlsym instead of the plain
// ones, so they need the same virtual-path dispatch as their unversioned
// counterparts.
//
//export vrift___xstat
func vrift___xstat(ver C.int, path *C.char, buf *C.struct_stat) C.int {
	return vrift_stat(path, buf)
}

//export vrift___lxstat
func vrift___lxstat(ver C.int, path *C.char, buf *C.struct_stat) C.int {
	return vrift_lstat(path, buf)
}

//export vrift___fxstat
func vrift___fxstat(ver C.int, fd C.int, buf *C.struct_stat) C.int {
	return vrift_fstat(fd, buf)
}
