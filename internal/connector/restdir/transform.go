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

package restdir

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/tombee/conduit/internal/spi"
)

// applyTransform runs a jq expression against decoded response data.
// Multiple outputs collapse to an array; a single output is returned
// as-is. Execution is bounded by the configured request timeout.
func applyTransform(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, spi.NewConfigInvalid("transform", err.Error())
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, spi.NewConfigInvalid("transform", err.Error())
	}

	execCtx, cancel := context.WithTimeout(ctx, defaultTransformWait)
	defer cancel()

	var results []any
	iter := code.RunWithContext(execCtx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, spi.NewBackendError("transform failed", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
