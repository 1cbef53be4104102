// Copyright 2025 Origin Notes Authors
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

package stream

import (
	"regexp"
	"strings"
)

// The write classifier's control labels occasionally leak into the
// answer stream, sometimes mangled by tokenization: "DENY_WRITE该笔记",
// "_WRITE_WRITE已将", escaped "\_WRITE", or the fullwidth underscore
// "＿WRITE". Strip them before anything reaches the client.
var controlTokenPattern = regexp.MustCompile(`^(?:\\?(?:ALLOW|DENY)_WRITE|\\?[_＿]WRITE|ALLOW\b|DENY\b)[:：]?`)

// sanitizeUserVisibleText removes leading control labels (and the CRLF
// or whitespace stitched between them). Text without a leading label is
// returned unchanged.
func sanitizeUserVisibleText(text string) string {
	out := text
	for {
		trimmed := strings.TrimLeft(out, " \t\r\n")
		loc := controlTokenPattern.FindStringIndex(trimmed)
		if loc == nil {
			return out
		}
		out = trimmed[loc[1]:]
	}
}

// isInternalControlText reports whether the text is nothing but control
// labels and separators, i.e. nothing user-visible remains after
// sanitization.
func isInternalControlText(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return strings.TrimSpace(sanitizeUserVisibleText(text)) == ""
}
