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

package util

// AccessMode classifies the read/write intent of an open(2) call,
// independent of the O_* behavioural flags.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	WriteOnly
	ReadWrite
)

// FileFlags is a bitmask of behavioural open(2) flags the interposer cares
// about when deciding whether a virtual open needs a break-link.
type FileFlags int

const (
	O_APPEND FileFlags = 1 << iota
	O_DIRECT
)

// OpenMode is the routing-relevant projection of a platform's open(2) flags.
type OpenMode struct {
	AccessMode AccessMode
	FileFlags  FileFlags
}

// OpenFlagAttributes is implemented by a platform-specific flags decoder
// (or, in tests, a mock) so FileOpenMode stays platform-agnostic.
type OpenFlagAttributes interface {
	IsReadOnly() bool
	IsWriteOnly() bool
	IsReadWrite() bool
	IsAppend() bool
	IsDirect() bool
}

// FileOpenMode reduces a platform's raw open flags to the AccessMode/
// FileFlags pair the interposer's break-link logic switches on.
func FileOpenMode(f OpenFlagAttributes) OpenMode {
	mode := OpenMode{}

	switch {
	case f.IsWriteOnly():
		mode.AccessMode = WriteOnly
	case f.IsReadWrite():
		mode.AccessMode = ReadWrite
	default:
		mode.AccessMode = ReadOnly
	}

	if f.IsAppend() {
		mode.FileFlags |= O_APPEND
	}
	if f.IsDirect() {
		mode.FileFlags |= O_DIRECT
	}

	return mode
}

// IsWrite reports whether mode requires write access (and thus a
// break-link when the target is a virtual path).
func (m OpenMode) IsWrite() bool {
	return m.AccessMode == WriteOnly || m.AccessMode == ReadWrite
}
