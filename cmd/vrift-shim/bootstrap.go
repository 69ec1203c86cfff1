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

import "C"

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/catalog"
	"github.com/velo-rift/vrift/internal/interposer"
	"github.com/velo-rift/vrift/internal/telemetry"
)

// engBox holds the single process-wide Engine every exported entry point
// below dispatches through, published via an atomic.Pointer because
// finishBootstrap replaces the placeholder Engine init installs with a
// fully wired one from a background goroutine — a bare *Engine variable
// reassigned across goroutines without synchronization would be a data
// race the moment an entry point on another OS thread reads it mid-swap.
// Spec §9 calls the underlying global state unavoidable: one injected
// library, one mapping to the manifest, one socket.
var engBox atomic.Pointer[interposer.Engine]

func eng() *interposer.Engine { return engBox.Load() }

var stagingDir string

// init runs as the dynamic loader maps this shared object in, the
// closest Go analog to spec's "loader-init section" constructor; it does
// only the minimal flag flip (publish a Bootstrapping-state Engine keyed
// to VRIFT_VFS_PREFIX, its one environment read), deferring the remaining
// environment reads and the daemon dial to finishBootstrap so a crash
// during dlopen itself never leaves the recursion guard half-initialized.
func init() {
	placeholder := interposer.New(interposer.Config{Prefix: os.Getenv("VRIFT_VFS_PREFIX")})
	placeholder.Bootstrap()
	engBox.Store(placeholder)
	go finishBootstrap()
}

// finishBootstrap does the part of startup that can block or fail:
// opening the CAS root and mmap catalog, dialing the daemon, and only
// then publishing a Ready engine. Every entry point called before this
// completes sees dispatchable() return false on the placeholder and
// falls through to the real libc function, which is always safe.
func finishBootstrap() {
	casRoot := os.Getenv("VRIFT_CAS_ROOT")
	store, err := cas.Open(casRoot)
	if err != nil {
		eng().Trip()
		return
	}

	var reader *catalog.Reader
	if catalogPath := os.Getenv("VRIFT_CATALOG_PATH"); catalogPath != "" {
		reader, _ = catalog.Open(catalogPath)
	}

	client, err := interposer.DialDaemon(os.Getenv("VRIFT_SOCKET_PATH"))
	if err != nil {
		eng().Trip()
		return
	}

	telem := telemetry.New()
	telem.Enable(os.Getenv("VRIFT_PROFILE") == "1")

	stagingDir = os.TempDir()

	ready := interposer.New(interposer.Config{
		Prefix:    os.Getenv("VRIFT_VFS_PREFIX"),
		Catalog:   reader,
		Cas:       store,
		Client:    client,
		Telemetry: telem,
	})
	ready.Bootstrap()
	ready.MarkReady()
	engBox.Store(ready)

	go dumpTelemetryOnSignal(telem)
}

// dumpTelemetryOnSignal is the closest c-shared mode gets to spec §4.6's
// "at-exit hook": Go's -buildmode=c-shared has no destructor callback, so
// a SIGTERM/SIGINT handler goroutine is the best-effort substitute. It is
// the only place the dump is written: a process that exits without
// receiving one of those signals leaves no dump.
func dumpTelemetryOnSignal(telem *telemetry.Counters) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	_ = telem.DumpOnExit(telemetry.DefaultDumpPath(os.Getpid()))
}

func cwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "/"
	}
	return wd
}
