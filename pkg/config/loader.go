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
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads a YAML config file, expands ${ENV_VAR} references, and
// unmarshals it over Default(). An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	expandEnvVarsInKoanf(k)

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)(?::-([^}]*))?\}`)

// ExpandEnvVars replaces ${VAR} and ${VAR:-default} references in s.
func ExpandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[2]
	})
}

func expandEnvVarsInKoanf(k *koanf.Koanf) {
	for key, value := range k.All() {
		if s, ok := value.(string); ok {
			expanded := ExpandEnvVars(s)
			if expanded != s {
				_ = k.Set(key, expanded)
			}
		}
	}
}

// applyEnvOverrides picks up the conventional environment variables so a
// bare install works without a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("ORIGIN_AGENT_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ORIGIN_AGENT_CHECKPOINT_DB"); v != "" {
		cfg.Checkpoint.Path = v
	}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SetAddr overrides host and port from a "host:port" flag value.
func (c *ServerConfig) SetAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	if host != "" {
		c.Host = host
	}
	c.Port = port
	return nil
}
