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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/kadirpekel/consult/pkg/clinical"
	"github.com/kadirpekel/consult/pkg/region"
	"github.com/kadirpekel/consult/pkg/workflow"
)

// AnalyzeCmd runs one analysis from the command line and prints the report.
type AnalyzeCmd struct {
	Scenario  string `arg:"" optional:"" help:"Clinical scenario text. Read from stdin when omitted."`
	Country   string `help:"ISO-3166 alpha-2 country code (defaults to the configured country)."`
	PatientID string `name:"patient-id" help:"Patient record identifier for the get_patient_info tool."`
	JSON      bool   `help:"Print the full report as JSON."`
}

func (c *AnalyzeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, loader, err := loadServeConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	scenario := strings.TrimSpace(c.Scenario)
	if scenario == "" {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Enter the clinical scenario, end with Ctrl-D:")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read scenario from stdin: %w", err)
		}
		scenario = strings.TrimSpace(string(data))
	}
	if scenario == "" {
		return fmt.Errorf("no scenario provided")
	}

	country := c.Country
	if country == "" {
		country = cfg.Workflow.DefaultCountry
	}

	llmClient, err := workflow.NewLLMClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}
	if llmClient == nil {
		slog.Warn("No LLM API key configured; report will carry guidance only")
	} else {
		defer llmClient.Close()
	}

	orch := workflow.New(llmClient, workflow.NewSpecSource(cfg.Fleet), workflow.ConfigFromApp(cfg))
	defer orch.Close()

	slog.Info("Running analysis", "country", country, "region", region.ProfileName(country))

	report, err := orch.Analyze(ctx, scenario, country, c.PatientID)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println(report.Summary)
	if len(report.Warnings) > 0 {
		fmt.Println("Warnings:")
		for _, w := range report.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	return nil
}

// RegionsCmd lists the region profiles.
type RegionsCmd struct{}

func (c *RegionsCmd) Run() error {
	for _, code := range region.Supported() {
		fmt.Printf("%-14s %s\n", code, strings.Join(region.Select(code), ", "))
	}
	fmt.Printf("%-14s %s\n", region.International, strings.Join(region.Select(""), ", "))
	fmt.Printf("\n%s serves any country code without a profile of its own.\n", region.International)
	return nil
}

// SchemaCmd prints the JSON schema the model's final answer must satisfy.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	if c.Compact {
		data, err := json.Marshal(clinical.AnswerSchema())
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(clinical.AnswerSchemaJSON())
	return nil
}
