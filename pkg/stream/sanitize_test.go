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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsLeakedControlLabels(t *testing.T) {
	cases := map[string]string{
		"DENY_WRITE该笔记保持原文。":          "该笔记保持原文。",
		"ALLOW_WRITE: 已将标题改为《计划》。":    " 已将标题改为《计划》。",
		"_WRITE_WRITE已将内容更新。":          "已将内容更新。",
		`\_WRITE好的，已完成。`:               "好的，已完成。",
		"＿WRITE\r\n＿WRITE_WRITE笔记已重命名。": "笔记已重命名。",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeUserVisibleText(in), in)
	}
}

func TestSanitizeLeavesNormalTextAlone(t *testing.T) {
	for _, text := range []string{
		"好的，这就帮你整理。",
		"  leading whitespace stays",
		"The ALLOW_WRITE label mid-sentence stays",
		"",
	} {
		assert.Equal(t, text, sanitizeUserVisibleText(text), text)
	}
}

func TestIsInternalControlText(t *testing.T) {
	for _, text := range []string{"_WRITE_WRITE", "DENY_WRITE_WRITE", "ALLOW_WRITE:", "＿WRITE\r\n＿WRITE"} {
		assert.True(t, isInternalControlText(text), text)
	}
	for _, text := range []string{"该笔记保持原文。", "DENY_WRITE该笔记保持原文。", "", "   "} {
		assert.False(t, isInternalControlText(text), text)
	}
}
