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

typedef int (*execve_fn)(const char *, char *const[], char *const[]);

static int vrift_call_execve(void *fn, const char *path, char *const argv[], char *const envp[]) {
	return ((execve_fn)fn)(path, argv, envp);
}

// posix_spawn's file_actions/attrp parameters are opaque struct pointers;
// declaring them void* here still matches the real posix_spawn's calling
// convention (a pointer is a pointer at the ABI level) without pulling in
// <spawn.h>'s struct definitions just to forward them untouched.
typedef int (*posix_spawn_fn)(pid_t *, const char *, void *, void *, char *const[], char *const[]);

static int vrift_call_posix_spawn(void *fn, pid_t *pid, const char *path, void *file_actions, void *attrp, char *const argv[], char *const envp[]) {
	return ((posix_spawn_fn)fn)(pid, path, file_actions, attrp, argv, envp);
}
*/
import "C"

import "unsafe"

var realExecve = newOnceCell("execve")
var realPosixSpawn = newOnceCell("posix_spawn")

// vrift_execve is pure passthrough per spec §4.5: the spawned process
// inherits the interposer through the environment variables the launcher
// already set (VRIFT_VFS_PREFIX, VRIFT_SOCKET_PATH, LD_PRELOAD/
// DYLD_INSERT_LIBRARIES), not through anything this function does. It is
// exported anyway, rather than left unintercepted, so a statically
// linked caller that resolved execve through this library's symbol
// table still reaches the real one via the same resolution cell as
// every other entry point.
//
//export vrift_execve
func vrift_execve(path *C.char, argv, envp **C.char) C.int {
	return C.int(C.vrift_call_execve(realExecve.get(), path, argv, envp))
}

// vrift_posix_spawn is the same passthrough as vrift_execve, for the same
// reason spec §4.5 names both: the spawned process picks up injection
// from the environment already set by the launcher, not from anything
// done here.
//
//export vrift_posix_spawn
func vrift_posix_spawn(pid *C.pid_t, path *C.char, fileActions, attrp unsafe.Pointer, argv, envp **C.char) C.int {
	return C.int(C.vrift_call_posix_spawn(realPosixSpawn.get(), pid, path, fileActions, attrp, argv, envp))
}
