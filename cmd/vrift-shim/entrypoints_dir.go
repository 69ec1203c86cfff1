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
#include <unistd.h>

typedef int (*mkdir_fn)(const char *, mode_t);
typedef int (*rmdir_fn)(const char *);
typedef int (*unlink_fn)(const char *);
typedef int (*rename_fn)(const char *, const char *);
typedef int (*renameat_fn)(int, const char *, int, const char *);

static int vrift_call_mkdir(void *fn, const char *path, mode_t mode) {
	return ((mkdir_fn)fn)(path, mode);
}

static int vrift_call_rmdir(void *fn, const char *path) {
	return ((rmdir_fn)fn)(path);
}

static int vrift_call_unlink(void *fn, const char *path) {
	return ((unlink_fn)fn)(path);
}

static int vrift_call_rename(void *fn, const char *oldpath, const char *newpath) {
	return ((rename_fn)fn)(oldpath, newpath);
}

static int vrift_call_renameat(void *fn, int olddirfd, const char *oldpath, int newdirfd, const char *newpath) {
	return ((renameat_fn)fn)(olddirfd, oldpath, newdirfd, newpath);
}
*/
import "C"

import (
	"sync"
	"time"

	"github.com/velo-rift/vrift/internal/interposer"
	"github.com/velo-rift/vrift/internal/manifest"
)

var (
	realMkdir    = newOnceCell("mkdir")
	realRmdir    = newOnceCell("rmdir")
	realUnlink   = newOnceCell("unlink")
	realRename   = newOnceCell("rename")
	realRenameat = newOnceCell("renameat")
)

//export vrift_mkdir
func vrift_mkdir(path *C.char, mode C.mode_t) C.int {
	goPath := C.GoString(path)
	handled, err := eng().Mkdir(goPath, cwd(), uint32(mode), uint64(time.Now().Unix()))
	if !handled {
		return C.int(C.vrift_call_mkdir(realMkdir.get(), path, mode))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	return 0
}

//export vrift_rmdir
func vrift_rmdir(path *C.char) C.int {
	goPath := C.GoString(path)
	handled, err := eng().Rmdir(goPath, cwd())
	if !handled {
		return C.int(C.vrift_call_rmdir(realRmdir.get(), path))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	return 0
}

//export vrift_unlink
func vrift_unlink(path *C.char) C.int {
	goPath := C.GoString(path)
	handled, err := eng().Unlink(goPath, cwd())
	if !handled {
		return C.int(C.vrift_call_unlink(realUnlink.get(), path))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	return 0
}

//export vrift_rename
func vrift_rename(oldpath, newpath *C.char) C.int {
	goOld, goNew := C.GoString(oldpath), C.GoString(newpath)
	handled, err := eng().Rename(goOld, goNew, cwd())
	if !handled {
		return C.int(C.vrift_call_rename(realRename.get(), oldpath, newpath))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	return 0
}

// vrift_renameat ignores both directory fds for the same reason
// vrift_openat ignores dirfd (see entrypoints_open.go) and delegates
// straight to vrift_rename's virtual-path dispatch.
//
//export vrift_renameat
func vrift_renameat(olddirfd C.int, oldpath *C.char, newdirfd C.int, newpath *C.char) C.int {
	goOld, goNew := C.GoString(oldpath), C.GoString(newpath)
	handled, err := eng().Rename(goOld, goNew, cwd())
	if !handled {
		return C.int(C.vrift_call_renameat(realRenameat.get(), olddirfd, oldpath, newdirfd, newpath))
	}
	if err != nil {
		setErrno(err.(interposer.Errno).Err)
		return -1
	}
	return 0
}

// dirHandle is the synthetic DIR* the shim hands back from opendir for a
// virtual path: an index into dirHandles plus a cursor, since the
// engine's ManifestListDir answers the whole listing in one IPC round
// trip rather than a stream the way a real readdir(3) iterates.
type dirHandle struct {
	children []manifest.DirChild
	pos      int
}

var dirHandles = struct {
	mu   sync.Mutex
	next uintptr
	open map[uintptr]*dirHandle
}{next: 1, open: make(map[uintptr]*dirHandle)}

//export vrift_opendir
func vrift_opendir(path *C.char) uintptr {
	goPath := C.GoString(path)
	children, handled, err := eng().Readdir(goPath, cwd())
	if !handled || err != nil {
		return 0
	}

	dirHandles.mu.Lock()
	id := dirHandles.next
	dirHandles.next++
	dirHandles.open[id] = &dirHandle{children: children}
	dirHandles.mu.Unlock()

	return uintptr(id)
}

//export vrift_readdir_name
func vrift_readdir_name(handle uintptr) *C.char {
	dirHandles.mu.Lock()
	dh, ok := dirHandles.open[uintptr(handle)]
	dirHandles.mu.Unlock()
	if !ok || dh.pos >= len(dh.children) {
		return nil
	}
	name := dh.children[dh.pos].Name
	dh.pos++
	return C.CString(name)
}

//export vrift_closedir
func vrift_closedir(handle uintptr) C.int {
	dirHandles.mu.Lock()
	delete(dirHandles.open, uintptr(handle))
	dirHandles.mu.Unlock()
	return 0
}
