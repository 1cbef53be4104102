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

package graph

import (
	"log/slog"
	"sync"
)

// Builder constructs a fresh Engine. It is invoked lazily and again
// after every invalidation, so runtime LLM overrides take effect on the
// next turn.
type Builder func() (*Engine, error)

// Holder is the process-wide engine singleton. Concurrent turns share
// one engine; Invalidate tears it down (closing its checkpoint handle)
// and the next Get rebuilds.
type Holder struct {
	mu     sync.Mutex
	build  Builder
	engine *Engine
}

func NewHolder(build Builder) *Holder {
	return &Holder{build: build}
}

func (h *Holder) Get() (*Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine != nil {
		return h.engine, nil
	}
	engine, err := h.build()
	if err != nil {
		return nil, err
	}
	h.engine = engine
	return engine, nil
}

func (h *Holder) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine == nil {
		return
	}
	if err := h.engine.Close(); err != nil {
		slog.Warn("Failed to close engine on invalidation", "error", err)
	}
	h.engine = nil
}
