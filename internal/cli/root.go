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

// Package cli assembles the conduit operator command tree.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/conduit/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for Conduit
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit - connector host operator CLI",
		Long: `Conduit is the operator tool for a conduitd connector host. It
validates and scaffolds connector manifests, inspects the instances a
running daemon hosts, invokes connector operations, and smoke-tests
control plane credentials.

Run 'conduit manifest init <dir>' to scaffold a connectors directory.
Run 'conduit connectors' to list what a running daemon hosts.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	// Flag names are case-insensitive so --JSON and --json both work.
	cmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ToLower(name))
	})

	jsonOut, server, token := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVar(jsonOut, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(server, "server", "", "Daemon API base URL (default: $CONDUIT_SERVER or "+shared.DefaultServerURL+")")
	cmd.PersistentFlags().StringVar(token, "token", "", "Bearer token for the daemon API (default: $CONDUIT_TOKEN)")

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
