// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package color marks tlptool output with ANSI colors when stdout is a
// terminal.
package color

import (
	"fmt"
	"os"
)

// style is an ANSI SGR escape sequence.
type style string

const (
	reset  style = "\033[0m"
	red    style = "\033[31m"
	green  style = "\033[32m"
	yellow style = "\033[33m"
	cyan   style = "\033[36m"
	bold   style = "\033[1m"
	dimmed style = "\033[2m"
)

// NO_COLOR turns colors off regardless of the terminal.
var enabled = isTerminal(os.Stdout) && os.Getenv("NO_COLOR") == ""

// Disable turns off color output, as the --no-color flag does.
func Disable() { enabled = false }

func (s style) paint(text string) string {
	if !enabled {
		return text
	}
	return string(s) + text + string(reset)
}

// marker is a status tag printed in front of a message.
type marker struct {
	tag string
	s   style
}

var (
	okMarker   = marker{"OK", green}
	failMarker = marker{"FAIL", red}
	warnMarker = marker{"WARN", yellow}
	infoMarker = marker{"INFO", cyan}
)

func (m marker) text(msg string) string {
	return m.s.paint("[" + m.tag + "] " + msg)
}

func (m marker) textf(format string, a []any) string {
	return m.text(fmt.Sprintf(format, a...))
}

// OK marks msg as a success.
func OK(msg string) string { return okMarker.text(msg) }

// Fail marks msg as a failure.
func Fail(msg string) string { return failMarker.text(msg) }

// Warn marks msg as a warning.
func Warn(msg string) string { return warnMarker.text(msg) }

// Info marks msg as informational.
func Info(msg string) string { return infoMarker.text(msg) }

// Okf is OK with a format string.
func Okf(format string, a ...any) string { return okMarker.textf(format, a) }

// Failf is Fail with a format string.
func Failf(format string, a ...any) string { return failMarker.textf(format, a) }

// Warnf is Warn with a format string.
func Warnf(format string, a ...any) string { return warnMarker.textf(format, a) }

// Bold highlights a field value.
func Bold(s string) string { return bold.paint(s) }

// Dim renders secondary output such as hex dumps.
func Dim(s string) string { return dimmed.paint(s) }

// Header renders a section title.
func Header(s string) string { return (bold + cyan).paint("--- " + s + " ---") }
