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

// Package util holds small filesystem-path and open-flag helpers shared by
// cfg, the daemon and the interposer engine.
package util

import (
	"os"
	"path/filepath"
	"strings"
)

// GetResolvedPath makes p absolute, expanding a leading "~" to the user's
// home directory the way a shell would. It does not require p to exist.
func GetResolvedPath(p string) (string, error) {
	if p == "" {
		return os.Getwd()
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	return filepath.Abs(p)
}

// CanonicalizeVirtualPath collapses ".", "..", and repeated "/" the way
// path routing requires (spec: "no repeated /, no . or ..").
func CanonicalizeVirtualPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	cleaned := filepath.Clean(p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}
