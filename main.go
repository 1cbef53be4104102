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

// origin-agent is the orchestration service behind the note assistant:
// a checkpointed agent state machine streamed to clients over SSE.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/origin-notes/origin-agent/pkg/checkpoint"
	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/graph"
	"github.com/origin-notes/origin-agent/pkg/llms"
	"github.com/origin-notes/origin-agent/pkg/logger"
	"github.com/origin-notes/origin-agent/pkg/notes"
	"github.com/origin-notes/origin-agent/pkg/observability"
	"github.com/origin-notes/origin-agent/pkg/server"
	"github.com/origin-notes/origin-agent/pkg/supervisor"
	"github.com/origin-notes/origin-agent/pkg/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "origin-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to YAML config file")
		listenAddr = flag.String("listen", "", "listen address override (host:port)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		if err := cfg.Server.SetAddr(*listenAddr); err != nil {
			return err
		}
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, cfg.Logging.Format)
	log := logger.GetLogger()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewRecorder(registry)

	noteClient := notes.NewClient(cfg.Notes.StoreURL, cfg.Notes.Timeout)
	searchClient := notes.NewSearchClient(cfg.Notes.SearchURL, cfg.Notes.Timeout)

	manager := llms.NewManager(cfg.LLM)

	holder := graph.NewHolder(func() (*graph.Engine, error) {
		provider, err := manager.Provider()
		if err != nil {
			return nil, err
		}
		store, err := checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			return nil, err
		}
		reg := tools.NewRegistry(cfg.Agent.WriteTools)
		chat := func() (llms.Model, error) {
			p, err := manager.Provider()
			if err != nil {
				return nil, err
			}
			return p.Chat(), nil
		}
		for _, t := range tools.NewNoteTools(noteClient, searchClient, chat) {
			reg.Register(t)
		}
		return graph.New(cfg.Agent, provider, reg, store, metrics), nil
	})
	// Model switches rebuild the engine so the next turn binds the new
	// provider against a fresh checkpoint handle.
	manager.SetOnInvalidate(holder.Invalidate)

	sup := supervisor.New(cfg, holder, manager, noteClient, metrics)
	srv := server.New(cfg, sup, holder, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		holder.Invalidate()
		return nil
	})

	return g.Wait()
}
