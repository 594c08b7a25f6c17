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

package shared

import (
	"github.com/charmbracelet/lipgloss"
)

// Terminal palette. Adaptive pairs keep output readable on both light
// and dark backgrounds; lipgloss downgrades gracefully when the
// terminal lacks color support.
var (
	ok     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "78"})
	warn   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "221"})
	fail   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"})
	dim    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "243", Dark: "246"})
	accent = lipgloss.AdaptiveColor{Light: "25", Dark: "81"}

	// Bold emphasizes identifiers inline.
	Bold = lipgloss.NewStyle().Bold(true)

	// Header styles the connector ID line in verbose listings.
	Header = lipgloss.NewStyle().Bold(true).Foreground(accent)
)

// Status line markers.
const (
	markOK   = "ok"
	markWarn = "!!"
	markFail = "err"
)

// RenderOK prefixes msg with a green ok marker.
func RenderOK(msg string) string {
	return ok.Render(markOK) + " " + msg
}

// RenderWarn prefixes msg with a warning marker.
func RenderWarn(msg string) string {
	return warn.Render(markWarn) + " " + msg
}

// RenderError prefixes msg with an error marker.
func RenderError(msg string) string {
	return fail.Render(markFail) + " " + msg
}

// RenderLabel dims a field label in key/value output.
func RenderLabel(label string) string {
	return dim.Render(label)
}
