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

// Package main is the vrift command-line front end: daemon lifecycle,
// one-shot ingestion of a directory tree, status reporting, and running a
// target program under the injected interposer. It stays thin by design
// — spec.md explicitly scopes the daemon and interposer as the system's
// core, with this CLI as their collaborator rather than a component with
// its own algorithms.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/velo-rift/vrift/cfg"
	"github.com/velo-rift/vrift/internal/logger"
)

var (
	cfgFile      string
	bindErr      error
	unmarshalErr error
	config       cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "vrift",
	Short: "Userspace content-addressable virtual filesystem",
	Long: `vrift projects an immutable, deduplicated view of a source tree
into a live process's filesystem namespace without kernel modules.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		severity := string(config.Logging.Severity)
		if config.Debug {
			severity = "DEBUG"
		}
		logger.Init(string(config.Logging.Format), severity, nil)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			unmarshalErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}
	unmarshalErr = viper.Unmarshal(&config)
}

func main() {
	Execute()
}
