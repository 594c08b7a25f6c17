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

// Package connectors implements the `conduit connectors` command: list
// the instances a running daemon hosts, or show one in detail.
package connectors

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/conduit/internal/commands/shared"
)

// summary mirrors the daemon's connector list shape.
type summary struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Breaker      string   `json:"breaker,omitempty"`
}

// NewConnectorsCommand creates the connectors command
func NewConnectorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors [id]",
		Short: "List connector instances on a running daemon",
		Long: `List the connector instances a running conduitd hosts, with their
types, versions and capabilities. With an instance id, show that
instance including its circuit breaker state.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConnectors,
	}
}

func runConnectors(cmd *cobra.Command, args []string) error {
	client := shared.NewAPIClient()

	if len(args) == 1 {
		var s summary
		if err := client.Get(cmd.Context(), "/v1/connectors/"+url.PathEscape(args[0]), &s); err != nil {
			return shared.NewAPIExitError("get connector", err)
		}
		if shared.GetJSON() {
			return shared.EmitJSON(cmd.OutOrStdout(), s)
		}
		cmd.Println(shared.Header.Render(s.ID))
		cmd.Printf("  %s %s\n", shared.RenderLabel("type:"), s.Type)
		cmd.Printf("  %s %s\n", shared.RenderLabel("version:"), s.Version)
		cmd.Printf("  %s %s\n", shared.RenderLabel("capabilities:"), strings.Join(s.Capabilities, ", "))
		if s.Breaker != "" {
			cmd.Printf("  %s %s\n", shared.RenderLabel("breaker:"), s.Breaker)
		}
		return nil
	}

	var list struct {
		Connectors []summary `json:"connectors"`
	}
	if err := client.Get(cmd.Context(), "/v1/connectors", &list); err != nil {
		return shared.NewAPIExitError("list connectors", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), list)
	}

	if len(list.Connectors) == 0 {
		cmd.Println(shared.RenderWarn("no connectors loaded"))
		return nil
	}
	for _, s := range list.Connectors {
		cmd.Println(shared.RenderOK(fmt.Sprintf("%s  %s@%s  [%s]",
			shared.Bold.Render(s.ID), s.Type, s.Version, strings.Join(s.Capabilities, " "))))
	}
	return nil
}
