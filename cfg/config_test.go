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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig_PassesValidation(t *testing.T) {
	c := GetDefaultConfig()
	Rationalize(&c)
	require.NoError(t, ValidateConfig(&c))
}

func TestRationalize_FillsEmptyFields(t *testing.T) {
	var c Config
	Rationalize(&c)

	assert.Equal(t, DefaultVfsPrefix, c.VfsPrefix)
	assert.NotEmpty(t, c.CasRoot)
	assert.Equal(t, ResolvedPath(DefaultSocketPath), c.SocketPath)
	assert.Equal(t, ResolvedPath(DefaultCatalogPath), c.CatalogPath)
	assert.Equal(t, InfoLogSeverity, c.Logging.Severity)
	assert.EqualValues(t, DefaultJournalTTLSeconds, c.Journal.TTLSeconds)
}

func TestRationalize_DebugRaisesSeverity(t *testing.T) {
	c := GetDefaultConfig()
	c.Debug = true
	Rationalize(&c)
	assert.Equal(t, DebugLogSeverity, c.Logging.Severity)
}

func TestValidateConfig_RejectsRelativePrefix(t *testing.T) {
	c := GetDefaultConfig()
	c.VfsPrefix = "vrift"
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsTrailingSlash(t *testing.T) {
	c := GetDefaultConfig()
	c.VfsPrefix = "/vrift/"
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsEmptyCasRoot(t *testing.T) {
	c := GetDefaultConfig()
	c.CasRoot = ""
	assert.Error(t, ValidateConfig(&c))
}

func TestOctalRoundTrip(t *testing.T) {
	var o Octal
	require.NoError(t, o.UnmarshalText([]byte("755")))
	assert.EqualValues(t, 0o755, o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "755", string(text))
}

func TestLogSeverityRejectsUnknown(t *testing.T) {
	var s LogSeverity
	assert.Error(t, s.UnmarshalText([]byte("VERBOSE")))
}
