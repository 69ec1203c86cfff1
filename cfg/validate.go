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

import (
	"fmt"
	"strings"
)

// ValidateConfig returns a non-nil error if c cannot be used to start the
// daemon or bootstrap the interposer.
func ValidateConfig(c *Config) error {
	if !strings.HasPrefix(string(c.VfsPrefix), "/") {
		return fmt.Errorf("vfs-prefix must be absolute, got %q", c.VfsPrefix)
	}
	if c.VfsPrefix != "/" && strings.HasSuffix(string(c.VfsPrefix), "/") {
		return fmt.Errorf("vfs-prefix must not have a trailing slash, got %q", c.VfsPrefix)
	}
	if c.CasRoot == "" {
		return fmt.Errorf("cas-root must not be empty")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket-path must not be empty")
	}
	if c.Logging.LogRotate.MaxFileSizeMb <= 0 {
		return fmt.Errorf("logging.log-rotate.max-file-size-mb must be at least 1")
	}
	if c.Logging.LogRotate.BackupFileCount < 0 {
		return fmt.Errorf("logging.log-rotate.backup-file-count must be 0 or positive")
	}
	if c.Journal.TTLSeconds <= 0 {
		return fmt.Errorf("journal.ttl-seconds must be at least 1")
	}
	if c.Catalog.RepublishIntervalMs <= 0 {
		return fmt.Errorf("catalog.republish-interval-ms must be at least 1")
	}
	return nil
}
