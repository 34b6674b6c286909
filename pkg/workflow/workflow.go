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

// Package workflow composes the fleet, search, driver and enrichment layers
// into the analyze operation: one clinical scenario in, one region-grounded
// report out. Two interchangeable pipelines implement the operation: the
// tool-use conversation (default) and the legacy extract-and-enrich path.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/consult/pkg/agent"
	"github.com/kadirpekel/consult/pkg/clinical"
	"github.com/kadirpekel/consult/pkg/config"
	"github.com/kadirpekel/consult/pkg/enrich"
	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/llm"
	"github.com/kadirpekel/consult/pkg/region"
	"github.com/kadirpekel/consult/pkg/search"
)

// WarnLLMUnconfigured tags reports produced without a configured model.
// Analysis still succeeds; the report simply carries no diagnoses.
const WarnLLMUnconfigured = "llm_unconfigured"

const (
	// DefaultWorkflowTimeout bounds one whole analyze call.
	DefaultWorkflowTimeout = 300 * time.Second

	// DefaultMaxCorpusTokens caps the document corpus embedded in the
	// legacy pipeline's extraction prompt.
	DefaultMaxCorpusTokens = 24000
)

// SpecSource resolves server names into spawn specs. The workflow asks it
// for exactly the servers the selected region profile lists.
type SpecSource interface {
	SpawnSpecs(serverNames []string) map[string]fleet.SpawnSpec
}

// SpecSourceFunc adapts a function to the SpecSource interface.
type SpecSourceFunc func(serverNames []string) map[string]fleet.SpawnSpec

func (f SpecSourceFunc) SpawnSpecs(serverNames []string) map[string]fleet.SpawnSpec {
	return f(serverNames)
}

// Config tunes the orchestrator.
type Config struct {
	// WorkflowTimeout bounds one analyze call end to end.
	WorkflowTimeout time.Duration

	// MaxToolIterations caps the tool-use conversation length.
	MaxToolIterations int

	// Search bounds the regional search result sets.
	Search search.Config

	// MinResultsThreshold overrides the region's PubMed fallback trigger
	// when positive.
	MinResultsThreshold int

	// Pipeline selects the analysis path: config.PipelineToolUse or
	// config.PipelineLegacy.
	Pipeline string

	// MaxCorpusTokens caps the extraction prompt corpus (legacy path).
	MaxCorpusTokens int

	// Session is the template for knowledge server sessions; Name and
	// Spawn are filled per server.
	Session fleet.SessionConfig
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.WorkflowTimeout <= 0 {
		c.WorkflowTimeout = DefaultWorkflowTimeout
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = agent.DefaultMaxIterations
	}
	if c.Pipeline == "" {
		c.Pipeline = config.PipelineToolUse
	}
	if c.MaxCorpusTokens <= 0 {
		c.MaxCorpusTokens = DefaultMaxCorpusTokens
	}
	c.Search.SetDefaults()
}

// ConfigFromApp maps the application config onto orchestrator knobs.
func ConfigFromApp(app *config.Config) Config {
	return Config{
		WorkflowTimeout:   app.Workflow.WorkflowTimeout(),
		MaxToolIterations: app.Workflow.MaxToolIterations,
		Search: search.Config{
			TopKGuidelines: app.Workflow.TopKGuidelines,
			TopKCKS:        app.Workflow.TopKCKS,
			TopKBNF:        app.Workflow.TopKBNF,
			TopKPubMed:     app.Workflow.TopKPubMed,
		},
		MinResultsThreshold: app.Workflow.MinResultsThreshold,
		Pipeline:            app.Workflow.Pipeline,
		MaxCorpusTokens:     app.Workflow.MaxCorpusTokens,
		Session: fleet.SessionConfig{
			CallTimeout: app.Fleet.RPCTimeout(),
			CloseGrace:  app.Fleet.CloseGrace(),
		},
	}
}

// pooledFleet is a pre-opened regional fleet reused across analyze calls.
type pooledFleet struct {
	registry *fleet.Registry
	router   *fleet.Router
	warnings []string
}

// Orchestrator runs the analyze operation. Safe for concurrent use; fleets
// are either opened per call or taken from the pre-opened pool.
type Orchestrator struct {
	llm   llm.Client
	specs SpecSource
	cfg   Config

	mu     sync.RWMutex
	fleets map[string]*pooledFleet
}

// New creates an orchestrator. A nil model client is legal: analyze then
// short-circuits to an empty, warning-tagged report.
func New(client llm.Client, specs SpecSource, cfg Config) *Orchestrator {
	cfg.SetDefaults()
	if client != nil {
		client = instrumentLLM(client)
	}
	return &Orchestrator{
		llm:    client,
		specs:  specs,
		cfg:    cfg,
		fleets: make(map[string]*pooledFleet),
	}
}

// Preopen opens long-lived fleets for the given country codes and keeps
// them for reuse across analyze calls. Codes mapping to the same profile
// share one fleet. Partial server failures are warnings, as on the per-call
// path; Preopen itself fails only on cancellation or invalid specs.
func (o *Orchestrator) Preopen(ctx context.Context, countryCodes []string) error {
	for _, code := range countryCodes {
		profile := region.ProfileName(code)

		o.mu.RLock()
		_, exists := o.fleets[profile]
		o.mu.RUnlock()
		if exists {
			continue
		}

		pf, err := o.openFleet(ctx, code)
		if err != nil {
			return fmt.Errorf("pre-opening fleet for %s: %w", profile, err)
		}

		o.mu.Lock()
		o.fleets[profile] = pf
		o.mu.Unlock()

		slog.Info("Pre-opened regional fleet",
			"profile", profile,
			"servers", pf.registry.Count(),
			"tools", len(pf.router.Tools()))
	}
	return nil
}

// Close shuts down every pre-opened fleet.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	fleets := o.fleets
	o.fleets = make(map[string]*pooledFleet)
	o.mu.Unlock()

	var firstErr error
	for profile, pf := range fleets {
		if err := pf.registry.CloseAll(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing fleet %s: %w", profile, err)
		}
	}
	return firstErr
}

// Analyze runs one clinical scenario through the configured pipeline and
// returns the report. The whole call is bounded by the workflow timeout;
// expiry surfaces fleet.ErrTimeout. Clinical-content shortfall (no
// diagnoses, no guidelines, a missing model) is never an error: the report
// carries it in warnings instead.
func (o *Orchestrator) Analyze(ctx context.Context, scenario, countryCode, patientID string) (*clinical.Report, error) {
	scenario = strings.TrimSpace(scenario)
	if scenario == "" {
		return nil, fmt.Errorf("%w: scenario must not be empty", fleet.ErrConfig)
	}

	profile := region.ProfileName(countryCode)

	if o.llm == nil {
		slog.Info("No model configured, returning empty report", "profile", profile)
		return &clinical.Report{
			Summary:  clinical.RenderSummary(nil),
			Warnings: []string{WarnLLMUnconfigured},
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.WorkflowTimeout)
	defer cancel()

	start := time.Now()
	ctx, span := startAnalyzeSpan(ctx, profile, o.cfg.Pipeline, scenario)
	defer span.End()

	report, err := o.analyze(ctx, scenario, countryCode, patientID)
	err = classify(ctx, err)
	recordAnalysis(ctx, profile, o.cfg.Pipeline, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slog.Info("Analysis complete",
		"profile", profile,
		"pipeline", o.cfg.Pipeline,
		"diagnoses", len(report.Diagnoses),
		"warnings", len(report.Warnings),
		"elapsed", time.Since(start))
	return report, nil
}

func (o *Orchestrator) analyze(ctx context.Context, scenario, countryCode, patientID string) (*clinical.Report, error) {
	lease, err := o.acquireFleet(ctx, countryCode)
	if err != nil {
		return nil, err
	}
	defer lease.release()

	var (
		diagnoses []clinical.Diagnosis
		warnings  = lease.warnings
	)

	switch o.cfg.Pipeline {
	case config.PipelineLegacy:
		regionCfg := region.DefaultConfig(countryCode)
		if o.cfg.MinResultsThreshold > 0 {
			regionCfg.MinResultsThreshold = o.cfg.MinResultsThreshold
		}
		pipeline := NewGuidelinePipeline(o.llm, lease.caller, o.cfg.Search, o.cfg.MaxCorpusTokens)
		res, err := pipeline.Run(ctx, regionCfg, scenario)
		if err != nil {
			return nil, err
		}
		diagnoses = res.Diagnoses
		warnings = append(warnings, res.Warnings...)

	default:
		driver := agent.NewDriver(o.llm, lease.caller, agent.Config{
			MaxIterations: o.cfg.MaxToolIterations,
		})
		res, err := driver.Run(ctx, composeScenario(scenario, patientID))
		if err != nil {
			return nil, err
		}
		diagnoses = res.Diagnoses
		warnings = append(warnings, res.Warnings...)
	}

	if err := o.enrichDiagnoses(ctx, lease.caller, diagnoses); err != nil {
		return nil, err
	}

	return &clinical.Report{
		Diagnoses: diagnoses,
		Summary:   clinical.RenderSummary(diagnoses),
		Warnings:  warnings,
	}, nil
}

// enrichDiagnoses runs the drug enrichment pass under its own span, so the
// fan of BNF lookups shows up as one block in the analyze trace.
func (o *Orchestrator) enrichDiagnoses(ctx context.Context, caller fleet.Caller, diagnoses []clinical.Diagnosis) error {
	ctx, span := startEnrichSpan(ctx)
	defer span.End()

	if err := enrich.New(caller).Enrich(ctx, diagnoses); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// leasedFleet is one analyze call's view of a fleet: a tool caller, the
// warnings accumulated while assembling it, and a release hook that closes
// call-owned sessions but leaves pooled ones running.
type leasedFleet struct {
	caller   fleet.Caller
	warnings []string
	release  func()
}

// acquireFleet hands out the pre-opened fleet for the country's profile
// when one exists, otherwise opens a fresh fleet owned by this call.
func (o *Orchestrator) acquireFleet(ctx context.Context, countryCode string) (*leasedFleet, error) {
	profile := region.ProfileName(countryCode)

	o.mu.RLock()
	pooled, ok := o.fleets[profile]
	o.mu.RUnlock()
	if ok {
		return &leasedFleet{
			caller:   instrumentCaller(pooled.router),
			warnings: append([]string(nil), pooled.warnings...),
			release:  func() {},
		}, nil
	}

	pf, err := o.openFleet(ctx, countryCode)
	if err != nil {
		return nil, err
	}
	return &leasedFleet{
		caller:   instrumentCaller(pf.router),
		warnings: pf.warnings,
		release: func() {
			if err := pf.registry.CloseAll(); err != nil {
				slog.Warn("Fleet shutdown reported errors", "profile", profile, "error", err)
			}
		},
	}, nil
}

// openFleet launches the region's servers in parallel and discovers their
// tools. Per-server failures degrade to warnings; only cancellation or an
// invalid spec aborts.
func (o *Orchestrator) openFleet(ctx context.Context, countryCode string) (*pooledFleet, error) {
	servers := region.Select(countryCode)
	specs := o.specs.SpawnSpecs(servers)

	ctx, span := startFleetSpan(ctx, servers)
	defer span.End()

	start := time.Now()
	reg := fleet.NewRegistry(o.cfg.Session)
	if err := reg.Open(ctx, specs); err != nil {
		_ = reg.CloseAll()
		span.RecordError(err)
		return nil, err
	}
	router, err := reg.Discover(ctx)
	if err != nil {
		_ = reg.CloseAll()
		span.RecordError(err)
		return nil, err
	}
	recordFleetOpen(ctx, servers, reg.Names(), time.Since(start))

	return &pooledFleet{
		registry: reg,
		router:   router,
		warnings: reg.Warnings(),
	}, nil
}

// composeScenario appends the patient record pointer so the model knows to
// pull history through the patient info tool.
func composeScenario(scenario, patientID string) string {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return scenario
	}
	return fmt.Sprintf("%s\n\nPatient record identifier: %s. Retrieve the record with the get_patient_info tool before concluding.",
		scenario, patientID)
}

// classify maps an error produced under the workflow deadline onto the
// fleet taxonomy: deadline expiry is ErrTimeout no matter which stage it
// interrupted.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	switch ctx.Err() {
	case context.DeadlineExceeded:
		if !errors.Is(err, fleet.ErrTimeout) {
			return fmt.Errorf("%w: analysis deadline exceeded: %v", fleet.ErrTimeout, err)
		}
	case context.Canceled:
		if !errors.Is(err, fleet.ErrCancelled) && !errors.Is(err, fleet.ErrTimeout) {
			return fmt.Errorf("%w: analysis cancelled: %v", fleet.ErrCancelled, err)
		}
	}
	return err
}
