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

package cfg

// Defaults, per spec §6 "EXTERNAL INTERFACES".
const (
	DefaultVfsPrefix    = "/vrift"
	DefaultCasRoot      = "/var/velo/the_source"
	DefaultCasRootTmp   = "/tmp/vrift/the_source"
	DefaultSocketPath   = "/tmp/vrift.sock"
	DefaultCatalogPath  = "/tmp/vrift-manifest.mmap"

	DefaultLogSeverity         = "INFO"
	DefaultLogFormat           = "text"
	DefaultLogRotateMaxSizeMb  = 512
	DefaultLogRotateBackupCount = 10

	DefaultJournalTTLSeconds          = 300
	DefaultCatalogRepublishIntervalMs = 200
)

// GetDefaultConfig returns a Config populated with every documented
// default, used before flags/env/file layering and by tests that need a
// rationalized config without going through viper.
func GetDefaultConfig() Config {
	return Config{
		VfsPrefix:   DefaultVfsPrefix,
		CasRoot:     DefaultCasRoot,
		SocketPath:  DefaultSocketPath,
		CatalogPath: DefaultCatalogPath,
		Logging: LoggingConfig{
			Severity: InfoLogSeverity,
			Format:   TextLogFormat,
			LogRotate: LogRotateLogConfig{
				MaxFileSizeMb:   DefaultLogRotateMaxSizeMb,
				BackupFileCount: DefaultLogRotateBackupCount,
				Compress:        true,
			},
		},
		Journal: JournalConfig{TTLSeconds: DefaultJournalTTLSeconds},
		Catalog: CatalogConfig{RepublishIntervalMs: DefaultCatalogRepublishIntervalMs},
	}
}
