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

package llms

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/origin-notes/origin-agent/pkg/config"
)

// Override names a provider/model switch requested on a single turn.
// The switch persists for subsequent turns.
type Override struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Manager owns the active Provider. Applying an override rebuilds the
// provider and notifies the registered invalidation hook so dependent
// singletons (the compiled graph and its checkpoint handle) rebuild too.
type Manager struct {
	mu           sync.Mutex
	cfg          config.LLMConfig
	current      Provider
	onInvalidate func()
}

func NewManager(cfg config.LLMConfig) *Manager {
	return &Manager{cfg: cfg}
}

// SetOnInvalidate registers the hook run after a provider rebuild.
func (m *Manager) SetOnInvalidate(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onInvalidate = f
}

// Provider returns the active provider, building it on first use.
func (m *Manager) Provider() (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		p, err := build(m.cfg)
		if err != nil {
			return nil, err
		}
		m.current = p
	}
	return m.current, nil
}

// Apply switches the provider/model when the override differs from the
// active configuration. Returns the active provider and whether a
// rebuild happened.
func (m *Manager) Apply(o *Override) (Provider, bool, error) {
	m.mu.Lock()
	if o != nil {
		changed := false
		if o.Provider != "" && !strings.EqualFold(o.Provider, m.cfg.Provider) {
			m.cfg.Provider = strings.ToLower(o.Provider)
			changed = true
		}
		if o.Model != "" && o.Model != m.cfg.Model {
			m.cfg.Model = o.Model
			changed = true
		}
		if changed {
			p, err := build(m.cfg)
			if err != nil {
				m.mu.Unlock()
				return nil, false, err
			}
			m.current = p
			hook := m.onInvalidate
			m.mu.Unlock()
			slog.Info("LLM provider switched", "provider", m.cfg.Provider, "model", m.cfg.Model)
			if hook != nil {
				hook()
			}
			return p, true, nil
		}
	}
	m.mu.Unlock()
	p, err := m.Provider()
	return p, false, err
}

func build(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
