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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/velo-rift/vrift/clock"
	"github.com/velo-rift/vrift/internal/daemon"
	"github.com/velo-rift/vrift/internal/logger"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the vrift daemon in the foreground",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	srv, err := daemon.New(daemon.Config{
		SocketPath:        string(config.SocketPath),
		CasRoot:           string(config.CasRoot),
		ManifestPath:      string(config.ManifestPath),
		CatalogPath:       string(config.CatalogPath),
		RepublishInterval: time.Duration(config.Catalog.RepublishIntervalMs) * time.Millisecond,
		JournalTTL:        time.Duration(config.Journal.TTLSeconds) * time.Second,
	}, clock.RealClock{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("daemon: listening on %s", config.SocketPath)
	return srv.Run(ctx)
}
