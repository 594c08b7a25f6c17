// Copyright 2025 Tom Barlow
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

package loader

import (
	"fmt"
	"os"
	"regexp"
)

// envRefPattern matches string values that are exactly an environment
// reference. Partial references like "prefix-${NAME}" stay literal.
var envRefPattern = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)

// SubstituteEnv deep-copies a config map, replacing every string value of
// the form ${NAME} with the value of that environment variable. A
// reference to an unset variable fails with an error naming the variable
// and the config key, so one bad instance can be pinpointed in the
// manifest.
func SubstituteEnv(cfg map[string]any) (map[string]any, error) {
	if cfg == nil {
		return nil, nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		sv, err := substituteValue(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = sv
	}
	return out, nil
}

func substituteValue(path string, v any) (any, error) {
	switch tv := v.(type) {
	case string:
		m := envRefPattern.FindStringSubmatch(tv)
		if m == nil {
			return tv, nil
		}
		name := m[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			return nil, fmt.Errorf("config key %s references unset environment variable %s", path, name)
		}
		return value, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			sv, err := substituteValue(path+"."+k, child)
			if err != nil {
				return nil, err
			}
			out[k] = sv
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			sv, err := substituteValue(fmt.Sprintf("%s[%d]", path, i), child)
			if err != nil {
				return nil, err
			}
			out[i] = sv
		}
		return out, nil
	default:
		return v, nil
	}
}

// mergeConfig shallow-merges an instance config over a base config; the
// instance value wins on key conflicts. Neither input is mutated.
func mergeConfig(base, instance map[string]any) map[string]any {
	if base == nil && instance == nil {
		return nil
	}
	merged := make(map[string]any, len(base)+len(instance))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range instance {
		merged[k] = v
	}
	return merged
}
