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

// Package call implements the `conduit call` command: invoke one
// connector operation on a running daemon and print the result.
package call

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/conduit/internal/commands/shared"
)

// opSpec maps an operation name to its route shape.
type opSpec struct {
	method    string
	needClass bool
	needUID   bool
	suffix    string
}

var operations = map[string]opSpec{
	"test":   {method: http.MethodPost, suffix: "/test"},
	"schema": {method: http.MethodGet, suffix: "/schema"},
	"script": {method: http.MethodPost, suffix: "/script"},
	"create": {method: http.MethodPost, needClass: true},
	"get":    {method: http.MethodGet, needClass: true, needUID: true},
	"update": {method: http.MethodPatch, needClass: true, needUID: true},
	"delete": {method: http.MethodDelete, needClass: true, needUID: true},
	"search": {method: http.MethodPost, needClass: true, suffix: "/search"},
	"sync":   {method: http.MethodPost, needClass: true, suffix: "/sync"},
}

// NewCallCommand creates the call command
func NewCallCommand() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "call <connector> <operation> [objectClass] [uid]",
		Short: "Invoke a connector operation on a running daemon",
		Long: `Invoke one operation against a connector instance and print the JSON
result. Operations: test, schema, script, create, get, update, delete,
search, sync. The request body comes from --data, either inline JSON or
@file.

Examples:
  conduit call hr test
  conduit call hr get user u1
  conduit call hr search user --data '{"filter":{"type":"CMP","op":"EQ","path":["username"],"value":"ada"}}'
  conduit call hr create user --data '{"attrs":{"username":"grace"}}'`,
		Args: cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, args, data)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body: inline JSON or @file")
	return cmd
}

func runCall(cmd *cobra.Command, args []string, data string) error {
	connector, operation := args[0], strings.ToLower(args[1])

	spec, ok := operations[operation]
	if !ok {
		return fmt.Errorf("unknown operation %q", operation)
	}

	path := "/v1/connectors/" + url.PathEscape(connector)
	rest := args[2:]
	if spec.needClass {
		if len(rest) == 0 {
			return fmt.Errorf("%s requires an object class", operation)
		}
		path += "/objects/" + url.PathEscape(rest[0])
		rest = rest[1:]
	}
	if spec.needUID {
		if len(rest) == 0 {
			return fmt.Errorf("%s requires a uid", operation)
		}
		path += "/" + url.PathEscape(rest[0])
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected argument %q for %s", rest[0], operation)
	}
	path += spec.suffix

	body, err := readBody(data)
	if err != nil {
		return err
	}

	var result any
	if err := shared.NewAPIClient().Do(cmd.Context(), spec.method, path, body, &result); err != nil {
		return shared.NewAPIExitError(operation+" "+connector, err)
	}
	return shared.EmitJSON(cmd.OutOrStdout(), result)
}

// readBody parses --data as inline JSON, or as @file contents.
func readBody(data string) (any, error) {
	if data == "" {
		return nil, nil
	}

	raw := []byte(data)
	if strings.HasPrefix(data, "@") {
		var err error
		raw, err = os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("request body is not valid JSON: %w", err)
	}
	return body, nil
}
