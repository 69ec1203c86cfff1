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

package interposer

import (
	"path/filepath"
	"strings"
)

// DefaultPrefix is the configured virtual-tree prefix used when none is
// supplied.
const DefaultPrefix = "/vrift"

// excludedSegments are build-only directories that never route to the
// virtual tree even when they fall under the configured prefix, since a
// build tool walking them expects ordinary filesystem semantics (mtimes
// that change on every build, writable scratch files) rather than the
// read-mostly projected view.
var excludedSegments = []string{"target", ".git"}

// Router classifies an incoming path as virtual or physical after
// resolving it the way the real syscall would: relative to the process's
// actual working directory, not any configured root, with ".", "..", and
// repeated slashes collapsed.
type Router struct {
	prefix string
}

// NewRouter returns a Router keyed to prefix (e.g. "/vrift"). An empty
// prefix falls back to DefaultPrefix.
func NewRouter(prefix string) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Router{prefix: filepath.Clean(prefix)}
}

// Canonicalize resolves p against cwd if p is relative, then cleans the
// result. cwd is passed in explicitly (rather than read from os.Getwd
// internally) so callers — including tests — control exactly what "the
// process's real cwd" means at the call site.
func Canonicalize(p, cwd string) string {
	if p == "" {
		p = "."
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(cwd, p)
	}
	return filepath.Clean(p)
}

// Classify reports whether the canonical path canon lies inside the
// router's virtual prefix and is not excluded by a build-only segment.
func (r *Router) Classify(canon string) (virtual bool) {
	if !isWithin(canon, r.prefix) {
		return false
	}
	if hasExcludedSegment(canon) {
		return false
	}
	return true
}

// isWithin reports whether canon is prefix itself or a path under it,
// matching on path segments rather than a raw string prefix so "/vriftx"
// is not mistaken for a child of "/vrift".
func isWithin(canon, prefix string) bool {
	if canon == prefix {
		return true
	}
	return strings.HasPrefix(canon, prefix+string(filepath.Separator))
}

func hasExcludedSegment(canon string) bool {
	for _, seg := range strings.Split(canon, string(filepath.Separator)) {
		for _, excluded := range excludedSegments {
			if seg == excluded {
				return true
			}
		}
	}
	return false
}
