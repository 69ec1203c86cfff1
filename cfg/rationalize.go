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

import "os"

// Rationalize fills in defaults for zero-valued fields that BindFlags'
// flag defaults didn't reach (e.g. a config struct built directly by a
// test or by an offline caller), and chooses a CAS root fallback when
// /var/velo doesn't exist as a directory.
//
// Unlike the teacher's cfg.Rationalize (which resolves GCS bucket-type and
// machine-profile overrides — concerns with no analog here), vrift's
// rationalization is limited to filling empty paths and clamping
// non-positive durations.
func Rationalize(c *Config) {
	if c.VfsPrefix == "" {
		c.VfsPrefix = DefaultVfsPrefix
	}
	if c.CasRoot == "" {
		c.CasRoot = ResolvedPath(chooseCasRoot())
	}
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.CatalogPath == "" {
		c.CatalogPath = DefaultCatalogPath
	}
	if c.Logging.Severity == "" {
		c.Logging.Severity = InfoLogSeverity
	}
	if c.Logging.Format == "" {
		c.Logging.Format = TextLogFormat
	}
	if c.Logging.LogRotate.MaxFileSizeMb <= 0 {
		c.Logging.LogRotate.MaxFileSizeMb = DefaultLogRotateMaxSizeMb
	}
	if c.Journal.TTLSeconds <= 0 {
		c.Journal.TTLSeconds = DefaultJournalTTLSeconds
	}
	if c.Catalog.RepublishIntervalMs <= 0 {
		c.Catalog.RepublishIntervalMs = DefaultCatalogRepublishIntervalMs
	}
	if c.Debug && c.Logging.Severity != TraceLogSeverity {
		c.Logging.Severity = DebugLogSeverity
	}
}

// chooseCasRoot prefers /var/velo/the_source, falling back to
// /tmp/vrift/the_source when the parent directory /var/velo doesn't exist
// as a directory (e.g. a dev machine that never created it); it does not
// check whether /var/velo is writable.
func chooseCasRoot() string {
	if info, err := os.Stat("/var/velo"); err == nil && info.IsDir() {
		return DefaultCasRoot
	}
	return DefaultCasRootTmp
}
