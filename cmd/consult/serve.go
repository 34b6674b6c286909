// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kadirpekel/consult/pkg/config"
	"github.com/kadirpekel/consult/pkg/config/provider"
	"github.com/kadirpekel/consult/pkg/observability"
	"github.com/kadirpekel/consult/pkg/server"
	"github.com/kadirpekel/consult/pkg/workflow"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadServeConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Error("Observability shutdown error", "error", err)
		}
	}()

	llmClient, err := workflow.NewLLMClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}
	if llmClient == nil {
		slog.Warn("No LLM API key configured; reports will degrade to guidance only")
	} else {
		defer llmClient.Close()
		slog.Info("LLM provider ready", "provider", llmClient.Provider(), "model", llmClient.Name())
	}

	orch := workflow.New(llmClient, workflow.NewSpecSource(cfg.Fleet), workflow.ConfigFromApp(cfg))
	defer func() {
		if err := orch.Close(); err != nil {
			slog.Error("Fleet close error", "error", err)
		}
	}()

	if len(cfg.Fleet.Preopen) > 0 {
		if err := orch.Preopen(ctx, cfg.Fleet.Preopen); err != nil {
			return fmt.Errorf("failed to preopen fleets: %w", err)
		}
	}

	srv := server.New(cfg, orch)

	go func() {
		<-ctx.Done()
		if err := srv.Stop(context.Background()); err != nil {
			slog.Error("HTTP shutdown error", "error", err)
		}
	}()

	printServeInfo(cfg, llmClient != nil)

	return srv.Start(ctx)
}

// loadServeConfig loads the config file, wiring a change callback for the
// watch loop. Without a path the built-in defaults serve.
func loadServeConfig(ctx context.Context, configPath string) (*config.Config, *config.Loader, error) {
	if configPath == "" {
		slog.Info("No config file given, using defaults")
		return config.Default(), nil, nil
	}

	p, err := provider.NewFileProvider(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config: %w", err)
	}

	loader := config.NewLoader(p, config.WithOnChange(func(*config.Config) {
		slog.Warn("Configuration changed on disk; restart to apply", "path", configPath)
	}))

	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("Loaded configuration", "path", configPath)
	return cfg, loader, nil
}

func printServeInfo(cfg *config.Config, llmConfigured bool) {
	addr := cfg.Server.Address()

	fmt.Printf("\nconsult server ready\n")
	fmt.Printf("   Analyze:   http://%s/api/v1/analyze\n", addr)
	fmt.Printf("   Regions:   http://%s/api/v1/regions\n", addr)
	fmt.Printf("   Health:    http://%s/health\n", addr)
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:   http://%s/metrics\n", addr)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:   %s (%s)\n", cfg.Observability.Tracing.ExporterType, cfg.Observability.Tracing.EndpointURL)
	}
	fmt.Printf("   Pipeline:  %s\n", cfg.Workflow.Pipeline)
	if !llmConfigured {
		fmt.Printf("   LLM:       not configured (reports carry the llm_unconfigured warning)\n")
	}
	if len(cfg.Fleet.Preopen) > 0 {
		fmt.Printf("   Preopen:   %s\n", strings.Join(cfg.Fleet.Preopen, ", "))
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
