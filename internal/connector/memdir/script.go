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

package memdir

import (
	"context"

	"github.com/expr-lang/expr"

	"github.com/tombee/conduit/internal/spi"
)

// ScriptOnConnector evaluates an expr-language script against the
// directory. Scripts see their params plus read-only helpers; they
// cannot mutate objects.
func (c *Connector) ScriptOnConnector(ctx context.Context, script *spi.ScriptContext, opts *spi.OperationOptions) (any, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	if script.Language != "expr" {
		return nil, spi.NewNotSupported("script language " + script.Language)
	}

	env := map[string]any{
		"params": script.Params,
		"count":  c.countClass,
		"uids":   c.uidsClass,
		"attrs":  c.attrsOf,
	}

	program, err := expr.Compile(script.Script, expr.Env(env))
	if err != nil {
		return nil, spi.NewValidationErrorf("compile script: %v", err)
	}

	timeout := c.cfg.scriptTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := expr.Run(program, env)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, spi.NewBackendError("script execution failed", out.err)
		}
		return out.value, nil
	case <-runCtx.Done():
		return nil, spi.NewBackendError("script timed out after "+timeout.String(), runCtx.Err())
	}
}

func (c *Connector) countClass(objectClass string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects[objectClass])
}

func (c *Connector) uidsClass(objectClass string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uids := make([]string, 0, len(c.objects[objectClass]))
	for uid := range c.objects[objectClass] {
		uids = append(uids, uid)
	}
	return uids
}

func (c *Connector) attrsOf(objectClass, uid string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[objectClass][uid]
	if !ok {
		return nil
	}
	return cloneAttrs(obj.Attributes)
}
