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

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/conduit/internal/config"
)

// RunOptions configures one daemon run.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath overrides the CONDUIT_CONFIG lookup.
	ConfigPath string

	// Overrides applied after the config file.
	Listen        string
	ConnectorsDir string
	AuthMode      string
}

// Run starts the daemon and blocks until SIGINT or SIGTERM, then shuts
// down gracefully. This is the conduitd entry point.
func Run(opts RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}
	if opts.ConnectorsDir != "" {
		cfg.Connectors.Dir = opts.ConnectorsDir
	}
	if opts.AuthMode != "" {
		cfg.Server.Auth = opts.AuthMode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	d, err := New(cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	d.logger.Info("shutting down", "signal", sig.String())

	cancel()
	return d.Shutdown(context.Background())
}
