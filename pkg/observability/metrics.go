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

// Package observability exposes the service's prometheus counters.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder bundles the agent-core counters. A nil *Recorder is a valid
// no-op, so library code can record unconditionally.
type Recorder struct {
	turns         *prometheus.CounterVec
	nodeSteps     *prometheus.CounterVec
	toolRuns      *prometheus.CounterVec
	policyDenials *prometheus.CounterVec
	doomLoops     prometheus.Counter
	interrupts    prometheus.Counter
}

// NewRecorder creates and registers the counters on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_agent_turns_total",
			Help: "Turns processed, by outcome (end, interrupt, error).",
		}, []string{"outcome"}),
		nodeSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_agent_node_steps_total",
			Help: "Graph node executions, by node name.",
		}, []string{"node"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_agent_tool_runs_total",
			Help: "Tool executions, by tool name and result (ok, error).",
		}, []string{"tool", "result"}),
		policyDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "origin_agent_policy_denials_total",
			Help: "Write-policy denials, by decision code.",
		}, []string{"code"}),
		doomLoops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "origin_agent_doom_loops_total",
			Help: "Doom-loop halts.",
		}),
		interrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "origin_agent_approval_interrupts_total",
			Help: "Write-approval interrupts issued.",
		}),
	}
	reg.MustRegister(r.turns, r.nodeSteps, r.toolRuns, r.policyDenials, r.doomLoops, r.interrupts)
	return r
}

func (r *Recorder) Turn(outcome string) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(outcome).Inc()
}

func (r *Recorder) NodeStep(node string) {
	if r == nil {
		return
	}
	r.nodeSteps.WithLabelValues(node).Inc()
}

func (r *Recorder) ToolRun(tool string, ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.toolRuns.WithLabelValues(tool, result).Inc()
}

func (r *Recorder) PolicyDenial(code string) {
	if r == nil {
		return
	}
	r.policyDenials.WithLabelValues(code).Inc()
}

func (r *Recorder) DoomLoop() {
	if r == nil {
		return
	}
	r.doomLoops.Inc()
}

func (r *Recorder) Interrupt() {
	if r == nil {
		return
	}
	r.interrupts.Inc()
}
