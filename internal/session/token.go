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

package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/conduit/internal/metrics"
	"github.com/tombee/conduit/internal/spi"
)

const (
	// tokenEarlyRefresh is how long before expiry a cached token stops
	// being served.
	tokenEarlyRefresh = 30 * time.Second

	// tokenDefaultTTL applies when the token response carries no usable
	// expires_in.
	tokenDefaultTTL = 300 * time.Second
)

// TokenConfig describes the client-credentials grant for the control
// plane.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// Optional grant extras.
	Scope    string
	Audience string
	Resource string
}

// TokenProvider fetches and caches an OAuth2 access token via the
// client-credentials grant. At most one refresh is in flight at a time;
// concurrent callers wait for it and share the result.
type TokenProvider struct {
	cc clientcredentials.Config

	mu    sync.Mutex
	token string
	until time.Time
	now   func() time.Time
}

// NewTokenProvider validates the grant configuration and returns a
// provider. No token is fetched until the first Token call.
func NewTokenProvider(cfg TokenConfig) (*TokenProvider, error) {
	if cfg.TokenURL == "" {
		return nil, errors.New("token provider requires a token URL")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("token provider requires a client id")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("token provider requires a client secret")
	}

	params := url.Values{}
	if cfg.Audience != "" {
		params.Set("audience", cfg.Audience)
	}
	if cfg.Resource != "" {
		params.Set("resource", cfg.Resource)
	}

	var scopes []string
	if cfg.Scope != "" {
		scopes = []string{cfg.Scope}
	}

	return &TokenProvider{
		cc: clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.TokenURL,
			Scopes:         scopes,
			EndpointParams: params,
			AuthStyle:      oauth2.AuthStyleInParams,
		},
		now: time.Now,
	}, nil
}

// Token returns a valid access token, fetching a new one when the cache
// is empty or within 30 s of expiry.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.until) {
		return p.token, nil
	}

	tok, err := p.cc.Token(ctx)
	if err != nil {
		metrics.RecordTokenRefresh("error")
		return "", asTokenError(err)
	}

	p.token = tok.AccessToken
	p.until = p.cacheUntil(tok.Expiry)
	metrics.RecordTokenRefresh("ok")
	return p.token, nil
}

// Invalidate drops the cached token so the next Token call fetches a
// fresh one. Called after the control plane rejects the bearer with
// 401 or 403.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.until = time.Time{}
	p.mu.Unlock()
}

// cacheUntil converts a token expiry into the instant the cache stops
// serving it. A zero or already-passed expiry falls back to the default
// lifetime.
func (p *TokenProvider) cacheUntil(expiry time.Time) time.Time {
	now := p.now()
	if expiry.IsZero() || !expiry.After(now) {
		expiry = now.Add(tokenDefaultTTL)
	}
	return expiry.Add(-tokenEarlyRefresh)
}

// asTokenError maps oauth2 failures onto the TokenRequestFailed kind,
// keeping the endpoint status and a truncated body when one exists.
func asTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		return spi.NewTokenRequestFailed(rErr.Response.StatusCode, string(rErr.Body))
	}
	return spi.NewTokenRequestFailed(0, err.Error())
}
