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

// Package cfg binds vrift's environment variables, flags and an optional
// YAML config file to a single Config struct via viper, the way the
// teacher's generated cfg package binds gcsfuse's mount flags.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully rationalized configuration consumed by the daemon,
// the interposer's bootstrap path, and cmd/vrift.
type Config struct {
	// VfsPrefix is the absolute path prefix under which the virtual tree
	// appears inside an injected process (VRIFT_VFS_PREFIX, spec §6).
	VfsPrefix string `mapstructure:"vfs-prefix" yaml:"vfs-prefix"`

	// CasRoot is the content-addressed blob store root
	// (VR_THE_SOURCE / VELO_CAS_ROOT).
	CasRoot ResolvedPath `mapstructure:"cas-root" yaml:"cas-root"`

	// ManifestPath, if set, lets an offline client load a manifest file
	// directly without a daemon (VELO_MANIFEST).
	ManifestPath ResolvedPath `mapstructure:"manifest-path" yaml:"manifest-path"`

	// SocketPath is the daemon's Unix stream socket.
	SocketPath ResolvedPath `mapstructure:"socket-path" yaml:"socket-path"`

	// CatalogPath is the mmap stat-cache file.
	CatalogPath ResolvedPath `mapstructure:"catalog-path" yaml:"catalog-path"`

	// Debug enables stderr log fan-out at DEBUG severity
	// (VRIFT_DEBUG / VELO_DEBUG).
	Debug bool `mapstructure:"debug" yaml:"debug"`

	// Profile enables the interposer's syscall counters (VRIFT_PROFILE).
	Profile bool `mapstructure:"profile" yaml:"profile"`

	// BuildCache enables the mtime-rewrite mode for build artifacts
	// (VRIFT_BUILD_CACHE). Out of core scope; carried here only so the
	// flag has somewhere to land.
	BuildCache bool `mapstructure:"build-cache" yaml:"build-cache"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
}

// LoggingConfig configures internal/logger.
type LoggingConfig struct {
	Severity  LogSeverity         `mapstructure:"severity" yaml:"severity"`
	Format    LogFormat           `mapstructure:"format" yaml:"format"`
	FilePath  ResolvedPath        `mapstructure:"file-path" yaml:"file-path"`
	LogRotate LogRotateLogConfig  `mapstructure:"log-rotate" yaml:"log-rotate"`
}

// LogRotateLogConfig configures gopkg.in/natefinch/lumberjack.v2.
type LogRotateLogConfig struct {
	MaxFileSizeMb   int  `mapstructure:"max-file-size-mb" yaml:"max-file-size-mb"`
	BackupFileCount int  `mapstructure:"backup-file-count" yaml:"backup-file-count"`
	Compress        bool `mapstructure:"compress" yaml:"compress"`
}

// JournalConfig configures the daemon's reingest journal.
type JournalConfig struct {
	// TTLSeconds bounds how long a crash-recovered journal entry is
	// retried before being discarded (spec §4.4 "discard entries older
	// than a configurable TTL").
	TTLSeconds int64 `mapstructure:"ttl-seconds" yaml:"ttl-seconds"`
}

// CatalogConfig configures the mmap catalog writer's republish cadence.
type CatalogConfig struct {
	RepublishIntervalMs int64 `mapstructure:"republish-interval-ms" yaml:"republish-interval-ms"`
}

// BindFlags registers the command-line flags and binds them into viper
// under the same keys Config's mapstructure tags expect.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("vfs-prefix", DefaultVfsPrefix, "Virtual path prefix projected into injected processes.")
	flagSet.String("cas-root", DefaultCasRoot, "Content-addressed blob store root.")
	flagSet.String("manifest-path", "", "Manifest file for offline use without a daemon.")
	flagSet.String("socket-path", DefaultSocketPath, "Daemon Unix stream socket path.")
	flagSet.String("catalog-path", DefaultCatalogPath, "Mmap stat-cache catalog file path.")
	flagSet.Bool("debug", false, "Enable stderr log fan-out at DEBUG severity.")
	flagSet.Bool("profile", false, "Enable interposer syscall counters.")
	flagSet.Bool("build-cache", false, "Enable build-cache mtime-rewrite mode.")
	flagSet.String("logging.severity", DefaultLogSeverity, "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	flagSet.String("logging.format", DefaultLogFormat, "Log format: text or json.")
	flagSet.String("logging.file-path", "", "Rotating log file path; stderr when empty.")
	flagSet.Int("logging.log-rotate.max-file-size-mb", DefaultLogRotateMaxSizeMb, "Max size in MiB of a log file before rotation.")
	flagSet.Int("logging.log-rotate.backup-file-count", DefaultLogRotateBackupCount, "Number of rotated log files to retain.")
	flagSet.Bool("logging.log-rotate.compress", true, "Compress rotated log files.")
	flagSet.Int64("journal.ttl-seconds", DefaultJournalTTLSeconds, "Discard crash-recovered journal entries older than this many seconds.")
	flagSet.Int64("catalog.republish-interval-ms", DefaultCatalogRepublishIntervalMs, "Mmap catalog republish cadence in milliseconds.")

	for _, name := range []string{
		"vfs-prefix", "cas-root", "manifest-path", "socket-path", "catalog-path",
		"debug", "profile", "build-cache",
		"logging.severity", "logging.format", "logging.file-path",
		"logging.log-rotate.max-file-size-mb", "logging.log-rotate.backup-file-count", "logging.log-rotate.compress",
		"journal.ttl-seconds", "catalog.republish-interval-ms",
	} {
		if err := viper.BindPFlag(name, flagSet.Lookup(name)); err != nil {
			return err
		}
	}

	return BindEnv()
}

// BindEnv binds the spec's documented environment variables, preferring
// the VRIFT_ prefix over the historical VELO_/VR_ prefix when both are set
// (SPEC_FULL §6).
func BindEnv() error {
	binds := [][2]string{
		{"vfs-prefix", "VRIFT_VFS_PREFIX"},
		{"cas-root", "VR_THE_SOURCE"},
		{"manifest-path", "VELO_MANIFEST"},
		{"debug", "VRIFT_DEBUG"},
		{"debug", "VELO_DEBUG"},
		{"profile", "VRIFT_PROFILE"},
		{"build-cache", "VRIFT_BUILD_CACHE"},
	}
	for _, b := range binds {
		if err := viper.BindEnv(b[0], b[1]); err != nil {
			return err
		}
	}
	// VELO_CAS_ROOT is an alias for VR_THE_SOURCE; bind it too so either
	// name works. viper checks the env names bound to a key in bind order,
	// so VR_THE_SOURCE (bound first, above) takes priority when both env
	// vars happen to be set.
	return viper.BindEnv("cas-root", "VELO_CAS_ROOT", "VR_THE_SOURCE")
}
