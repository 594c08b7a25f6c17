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

// Package token implements the `conduit token` command: fetch an access
// token via the client-credentials grant, the same way the daemon's
// remote session does.
package token

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/conduit/internal/commands/shared"
	"github.com/tombee/conduit/internal/session"
)

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	var cfg session.TokenConfig

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch an OAuth2 access token via client credentials",
		Long: `Fetch an access token from the configured token endpoint using the
client-credentials grant. The client secret comes from --client-secret,
the OAUTH_CLIENT_SECRET environment variable, or a masked prompt when
running on a terminal. Useful for smoke-testing control plane
credentials before enabling the session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.TokenURL, "token-url", os.Getenv("OAUTH_TOKEN_URL"), "OAuth2 token endpoint")
	cmd.Flags().StringVar(&cfg.ClientID, "client-id", os.Getenv("OAUTH_CLIENT_ID"), "OAuth2 client id")
	cmd.Flags().StringVar(&cfg.ClientSecret, "client-secret", "", "OAuth2 client secret (falls back to OAUTH_CLIENT_SECRET, then a prompt)")
	cmd.Flags().StringVar(&cfg.Scope, "scope", "", "Optional scope")
	cmd.Flags().StringVar(&cfg.Audience, "audience", "", "Optional audience parameter")
	cmd.Flags().StringVar(&cfg.Resource, "resource", "", "Optional resource parameter")
	return cmd
}

func runToken(cmd *cobra.Command, cfg session.TokenConfig) error {
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")
	}
	if cfg.ClientSecret == "" {
		secret, err := promptSecret("Client secret: ")
		if err != nil {
			return err
		}
		cfg.ClientSecret = secret
	}

	provider, err := session.NewTokenProvider(cfg)
	if err != nil {
		return shared.NewAuthError("token configuration", err)
	}

	tok, err := provider.Token(cmd.Context())
	if err != nil {
		return shared.NewAuthError("token request", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), map[string]string{"access_token": tok})
	}
	cmd.Println(tok)
	return nil
}

// promptSecret reads a secret without echo. Refused off a terminal so
// scripts fail loudly instead of hanging.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no client secret provided and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}

	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("client secret is empty")
	}
	return secret, nil
}
