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
#include <fcntl.h>
#include <unistd.h>
#include <stdarg.h>
#include <sys/types.h>

typedef int (*open_fn)(const char *, int, mode_t);
typedef int (*close_fn)(int);
typedef ssize_t (*read_fn)(int, void *, size_t);
typedef ssize_t (*write_fn)(int, const void *, size_t);
typedef off_t (*lseek_fn)(int, off_t, int);
typedef int (*ftruncate_fn)(int, off_t);

static int vrift_call_open(void *fn, const char *path, int flags, mode_t mode) {
	return ((open_fn)fn)(path, flags, mode);
}

static int vrift_call_close(void *fn, int fd) {
	return ((close_fn)fn)(fd);
}

static ssize_t vrift_call_read(void *fn, int fd, void *buf, size_t count) {
	return ((read_fn)fn)(fd, buf, count);
}

static ssize_t vrift_call_write(void *fn, int fd, const void *buf, size_t count) {
	return ((write_fn)fn)(fd, buf, count);
}

static off_t vrift_call_lseek(void *fn, int fd, off_t offset, int whence) {
	return ((lseek_fn)fn)(fd, offset, whence);
}

static int vrift_call_ftruncate(void *fn, int fd, off_t length) {
	return ((ftruncate_fn)fn)(fd, length);
}
*/
import "C"

import (
	"syscall"
	"unsafe"

	"github.com/velo-rift/vrift/internal/interposer"
)

var (
	realOpen      = newOnceCell("open")
	realClose     = newOnceCell("close")
	realRead      = newOnceCell("read")
	realWrite     = newOnceCell("write")
	realLseek     = newOnceCell("lseek")
	realFtruncate = newOnceCell("ftruncate")
)

// vrift_open implements open/openat's virtual-path branch: O_WRONLY and
// O_RDWR take the copy-on-write break-link path and return a real
// descriptor on the staging file (so ordinary read/write/lseek on it
// need no special handling below); every other flag combination takes
// the read-only path, which never gets a real OS descriptor at all.
//
//export vrift_open
func vrift_open(path *C.char, flags C.int, mode C.mode_t) C.int {
	goPath := C.GoString(path)
	wantsWrite := flags&(C.O_WRONLY|C.O_RDWR) != 0

	if !wantsWrite {
		fd, handled, err := eng().OpenRead(goPath, cwd())
		if !handled {
			return C.int(C.vrift_call_open(realOpen.get(), path, flags, mode))
		}
		if err != nil {
			setErrno(err.(interposer.Errno).Err)
			return -1
		}
		markReadFD(fd)
		return C.int(fd)
	}

	synthFD, stagingPath, handled, err := eng().OpenWrite(goPath, cwd(), stagingDir)
	if !handled {
		return C.int(C.vrift_call_open(realOpen.get(), path, flags, mode))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}

	cStaging := C.CString(stagingPath)
	defer C.free(unsafe.Pointer(cStaging))
	realFD := C.vrift_call_open(realOpen.get(), cStaging, C.O_RDWR|C.O_CREAT, 0o600)
	if realFD < 0 {
		setErrno(syscall.EIO)
		return -1
	}
	markWriteFD(int(realFD), synthFD)
	return realFD
}

//export vrift_close
func vrift_close(fd C.int) C.int {
	goFD := int(fd)

	if isReadFD(goFD) {
		clearReadFD(goFD)
		_, _, err := eng().Close(goFD)
		if err != nil {
			setErrno(err.(interposer.Errno).Err)
			return -1
		}
		return 0
	}

	if synthFD, ok := takeWriteFD(goFD); ok {
		_, _, err := eng().Close(synthFD)
		rc := C.vrift_call_close(realClose.get(), fd)
		if err != nil {
			setErrno(err.(interposer.Errno).Err)
			return -1
		}
		return rc
	}

	return C.vrift_call_close(realClose.get(), fd)
}

//export vrift_read
func vrift_read(fd C.int, buf unsafe.Pointer, count C.size_t) C.ssize_t {
	goFD := int(fd)
	if isReadFD(goFD) {
		dst := unsafe.Slice((*byte)(buf), int(count))
		n, _, err := eng().Read(goFD, dst)
		if err != nil {
			setErrno(err.(interposer.Errno).Err)
			return -1
		}
		return C.ssize_t(n)
	}
	return C.vrift_call_read(realRead.get(), fd, buf, count)
}

//export vrift_write
func vrift_write(fd C.int, buf unsafe.Pointer, count C.size_t) C.ssize_t {
	if isReadFD(int(fd)) {
		// A read-only virtual fd is never writable, same as a real file
		// opened O_RDONLY.
		setErrno(syscall.EBADF)
		return -1
	}
	return C.vrift_call_write(realWrite.get(), fd, buf, count)
}

//export vrift_lseek
func vrift_lseek(fd C.int, offset C.off_t, whence C.int) C.off_t {
	goFD := int(fd)
	if isReadFD(goFD) {
		pos, _, err := eng().Lseek(goFD, int64(offset), int(whence))
		if err != nil {
			setErrno(err.(interposer.Errno).Err)
			return -1
		}
		return C.off_t(pos)
	}
	return C.vrift_call_lseek(realLseek.get(), fd, offset, whence)
}

//export vrift_openat
func vrift_openat(dirfd C.int, path *C.char, flags C.int, mode C.mode_t) C.int {
	// dirfd is ignored: vrift's routing model resolves every path against
	// the caller's cwd (internal/interposer.Canonicalize), which covers
	// the overwhelmingly common openat(AT_FDCWD, ...) case. A relative
	// path resolved against some other open directory fd would need the
	// engine to accept an arbitrary base directory, which the current
	// routing model doesn't support; callers doing that against a path
	// under the virtual prefix are not yet a supported combination.
	return vrift_open(path, flags, mode)
}

// vrift_open64 is glibc's _FILE_OFFSET_BITS=64 variant of open; its only
// difference from open is that O_LARGEFILE is implied, which vrift_open's
// engine dispatch doesn't distinguish on anyway, so it's a thin alias.
//
//export vrift_open64
func vrift_open64(path *C.char, flags C.int, mode C.mode_t) C.int {
	return vrift_open(path, flags, mode)
}

//export vrift_ftruncate
func vrift_ftruncate(fd C.int, length C.off_t) C.int {
	goFD := int(fd)
	if isReadFD(goFD) {
		// A read-only virtual fd is backed by an immutable CAS blob with no
		// writable backing store, same as truncating a file opened O_RDONLY.
		setErrno(syscall.EBADF)
		return -1
	}
	return C.int(C.vrift_call_ftruncate(realFtruncate.get(), fd, length))
}
