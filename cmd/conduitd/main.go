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

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tombee/conduit/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to config file (default: $CONDUIT_CONFIG)")
		listen        = flag.String("listen", "", "API listen address, overrides the config file")
		connectorsDir = flag.String("connectors", "", "Connectors directory, overrides the config file")
		authMode      = flag.String("auth", "", "API auth mode (none or jwt), overrides the config file")
		showVersion   = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conduitd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	err := daemon.Run(daemon.RunOptions{
		Version:       version,
		Commit:        commit,
		BuildDate:     buildDate,
		ConfigPath:    *configPath,
		Listen:        *listen,
		ConnectorsDir: *connectorsDir,
		AuthMode:      *authMode,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "conduitd:", err)
		os.Exit(1)
	}
}
