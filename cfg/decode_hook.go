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
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/velo-rift/vrift/internal/util"
)

// hookFunc resolves ResolvedPath and Octal fields the way the teacher's
// cfg.hookFunc resolves its own custom scalar types, so viper.Unmarshal
// doesn't need bespoke per-field code.
func hookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s, _ := data.(string)

		switch t {
		case reflect.TypeOf(Octal(0)):
			return strconv.ParseInt(s, 8, 32)
		case reflect.TypeOf(ResolvedPath("")):
			if s == "" {
				return s, nil
			}
			return util.GetResolvedPath(s)
		default:
			return data, nil
		}
	}
}

// DecodeHook composes vrift's custom scalar decoding with mapstructure's
// defaults (TextUnmarshaler support covers LogSeverity/LogFormat).
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}
