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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Agent.MaxToolCalls)
	assert.Equal(t, 3, cfg.Agent.DoomLoopThreshold)
	assert.Contains(t, cfg.Agent.WriteTools, "delete_note")
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.ListenAddr())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
llm:
  model: gpt-4o-mini
  api_key: ${TEST_ORIGIN_KEY:-fallback-key}
agent:
  max_tool_calls: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "fallback-key", cfg.LLM.APIKey)
	assert.Equal(t, 10, cfg.Agent.MaxToolCalls)
	assert.Equal(t, 3, cfg.Agent.DoomLoopThreshold, "untouched fields keep defaults")
}

func TestLoadExpandsEnvironmentReferences(t *testing.T) {
	t.Setenv("TEST_ORIGIN_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: ${TEST_ORIGIN_KEY}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_ORIGIN_HOST", "example.test")

	assert.Equal(t, "http://example.test:1234", ExpandEnvVars("http://${TEST_ORIGIN_HOST}:${TEST_ORIGIN_PORT:-1234}"))
	assert.Equal(t, "", ExpandEnvVars("${TEST_ORIGIN_MISSING}"))
	assert.Equal(t, "plain", ExpandEnvVars("plain"))
}

func TestSetAddr(t *testing.T) {
	var c ServerConfig

	require.NoError(t, c.SetAddr("0.0.0.0:9001"))
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 9001, c.Port)

	require.NoError(t, c.SetAddr(":8080"))
	assert.Equal(t, "0.0.0.0", c.Host, "empty host keeps the previous one")
	assert.Equal(t, 8080, c.Port)

	assert.Error(t, c.SetAddr("no-port"))
}

func TestIsWriteTool(t *testing.T) {
	agent := Default().Agent
	assert.True(t, agent.IsWriteTool("update_note"))
	assert.True(t, agent.IsWriteTool("set_note_category"))
	assert.False(t, agent.IsWriteTool("read_note_content"))
	assert.False(t, agent.IsWriteTool(""))
}
