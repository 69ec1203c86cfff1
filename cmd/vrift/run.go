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
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/velo-rift/vrift/internal/logger"
	"github.com/velo-rift/vrift/internal/protocol"
)

var shimPath string

var runCmd = &cobra.Command{
	Use:   "run -- <argv...>",
	Short: "Launch a program under the vrift interposer via the daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&shimPath, "shim-path", "", "Path to the built vrift-shim shared library.")
}

// injectionEnv builds the environment variables that make the spawned
// process load and configure the interposer, per spec §6: the standard
// preloading variable names the library on Linux and macOS respectively,
// plus the config values the shim's bootstrap constructor reads once it
// reaches the Ready state.
func injectionEnv() []string {
	env := []string{
		"VRIFT_VFS_PREFIX=" + config.VfsPrefix,
		"VRIFT_SOCKET_PATH=" + string(config.SocketPath),
		"VRIFT_CATALOG_PATH=" + string(config.CatalogPath),
		"VRIFT_CAS_ROOT=" + string(config.CasRoot),
	}
	if config.Debug {
		env = append(env, "VRIFT_DEBUG=1")
	}
	if config.Profile {
		env = append(env, "VRIFT_PROFILE=1")
	}
	if shimPath == "" {
		return env
	}
	switch runtime.GOOS {
	case "darwin":
		env = append(env, "DYLD_INSERT_LIBRARIES="+shimPath)
	default:
		env = append(env, "LD_PRELOAD="+shimPath)
	}
	return env
}

func runRun(cmd *cobra.Command, args []string) error {
	client, err := dialDaemon(string(config.SocketPath))
	if err != nil {
		return err
	}
	defer client.Close()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	resp, err := client.roundTrip(&protocol.Envelope{
		Kind: protocol.KindSpawn,
		Spawn: &protocol.SpawnRequest{
			Argv: args,
			Env:  injectionEnv(),
			Cwd:  cwd,
		},
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("spawn: %s", resp.Err)
	}

	logger.Infof("run: spawned pid %d", resp.Spawn.Pid)
	return nil
}
