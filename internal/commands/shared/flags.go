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

// Package shared holds the flag state, styles, API client and exit
// handling common to all conduit subcommands.
package shared

// Global flag values, bound by the root command.
var (
	jsonFlag   bool
	serverFlag string
	tokenFlag  string

	// Build-time version information, injected via ldflags through
	// SetVersion.
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to the global flag variables so
// the root command can bind them.
func RegisterFlagPointers() (jsonOut *bool, server *string, token *string) {
	return &jsonFlag, &serverFlag, &tokenFlag
}

// SetVersion records build-time version information (called from main).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetJSON reports whether --json output was requested.
func GetJSON() bool {
	return jsonFlag
}

// GetServer returns the --server flag value; empty means use the
// environment or the default.
func GetServer() string {
	return serverFlag
}

// GetToken returns the --token flag value; empty means use the
// environment.
func GetToken() string {
	return tokenFlag
}

// GetVersion returns the build-time version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}
