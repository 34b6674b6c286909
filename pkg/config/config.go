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

// Package config defines the consult configuration surface and its loading
// pipeline: YAML (or JSON) bytes from a provider, environment variable
// expansion, weak decoding via mapstructure, defaults, then validation.
package config

import (
	"fmt"
	"time"

	"github.com/kadirpekel/consult/pkg/observability"
)

// ProviderAnthropic and ProviderGemini are the supported LLM backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Pipeline selection for the analysis workflow.
const (
	PipelineToolUse = "tooluse"
	PipelineLegacy  = "legacy"
)

// Config is the root configuration for the consult service.
type Config struct {
	LLM           LLMConfig            `yaml:"llm,omitempty"`
	Fleet         FleetConfig          `yaml:"fleet,omitempty"`
	Workflow      WorkflowConfig       `yaml:"workflow,omitempty"`
	Server        ServerConfig         `yaml:"server,omitempty"`
	Geo           GeoConfig            `yaml:"geo,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
	Logging       LoggingConfig        `yaml:"logging,omitempty"`
}

// LLMConfig selects and parameterizes the language model backend.
//
// An empty APIKey is not a validation error: the workflow degrades to a
// guidance-only report with an "llm_unconfigured" warning instead.
type LLMConfig struct {
	Provider    string        `yaml:"provider,omitempty"`
	Model       string        `yaml:"model,omitempty"`
	APIKey      string        `yaml:"api_key,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	MaxTokens   int           `yaml:"max_tokens,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	MaxRetries  int           `yaml:"max_retries,omitempty"`
}

// ServerSpawn overrides how a single knowledge server is launched. Servers
// without an override are spawned as "<servers_dir>/<name>/server.py" with
// no extra arguments (the layout the stock knowledge servers ship in).
type ServerSpawn struct {
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// FleetConfig governs knowledge-server sessions.
type FleetConfig struct {
	// ServersDir is the root directory the default spawn layout lives under.
	ServersDir string `yaml:"servers_dir,omitempty"`

	// RPCTimeoutMS bounds every individual tool call and the handshake.
	RPCTimeoutMS int `yaml:"rpc_timeout_ms,omitempty"`

	// CloseGraceMS bounds how long Close waits for a clean subprocess exit
	// before killing the process group.
	CloseGraceMS int `yaml:"close_grace_ms,omitempty"`

	// Servers holds per-server spawn overrides keyed by server name.
	Servers map[string]ServerSpawn `yaml:"servers,omitempty"`

	// Preopen lists country codes whose regional fleets the serve command
	// opens at startup and reuses across requests. Empty means sessions are
	// opened per call.
	Preopen []string `yaml:"preopen,omitempty"`
}

// WorkflowConfig tunes the analysis workflow.
type WorkflowConfig struct {
	WorkflowTimeoutMS   int    `yaml:"workflow_timeout_ms,omitempty"`
	MaxToolIterations   int    `yaml:"max_tool_iterations,omitempty"`
	TopKGuidelines      int    `yaml:"top_k_guidelines,omitempty"`
	TopKCKS             int    `yaml:"top_k_cks,omitempty"`
	TopKBNF             int    `yaml:"top_k_bnf,omitempty"`
	TopKPubMed          int    `yaml:"top_k_pubmed,omitempty"`
	MinResultsThreshold int    `yaml:"min_results_threshold,omitempty"`
	Pipeline            string `yaml:"pipeline,omitempty"`

	// MaxCorpusTokens caps the document corpus embedded in the legacy
	// pipeline's extraction prompt.
	MaxCorpusTokens int `yaml:"max_corpus_tokens,omitempty"`

	// DefaultCountry is used when neither the request nor geo lookup yields
	// a country code.
	DefaultCountry string `yaml:"default_country,omitempty"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Host               string   `yaml:"host,omitempty"`
	Port               int      `yaml:"port,omitempty"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins,omitempty"`

	// ShutdownTimeoutMS bounds graceful HTTP shutdown.
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms,omitempty"`
}

// GeoConfig configures the client-IP country resolver used when a request
// does not carry a country code.
type GeoConfig struct {
	Enabled  bool          `yaml:"enabled,omitempty"`
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

// ------------------------------------------------------------------
// Defaults
// ------------------------------------------------------------------

func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	c.Fleet.SetDefaults()
	c.Workflow.SetDefaults()
	c.Server.SetDefaults()
	c.Geo.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderAnthropic
	}
	if c.APIKey == "" {
		c.APIKey = ProviderAPIKey(c.Provider)
	}
	// Model, MaxTokens, Temperature and Timeout fall through to the
	// provider's own defaults when left zero.
}

func (c *FleetConfig) SetDefaults() {
	if c.ServersDir == "" {
		c.ServersDir = "./servers"
	}
	if c.RPCTimeoutMS <= 0 {
		c.RPCTimeoutMS = 30000
	}
	if c.CloseGraceMS <= 0 {
		c.CloseGraceMS = 2000
	}
}

func (c *WorkflowConfig) SetDefaults() {
	if c.WorkflowTimeoutMS <= 0 {
		c.WorkflowTimeoutMS = 300000
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 8
	}
	if c.TopKGuidelines <= 0 {
		c.TopKGuidelines = 5
	}
	if c.TopKCKS <= 0 {
		c.TopKCKS = 3
	}
	if c.TopKBNF <= 0 {
		c.TopKBNF = 3
	}
	if c.TopKPubMed <= 0 {
		c.TopKPubMed = 5
	}
	if c.MinResultsThreshold <= 0 {
		c.MinResultsThreshold = 2
	}
	if c.Pipeline == "" {
		c.Pipeline = PipelineToolUse
	}
	if c.MaxCorpusTokens <= 0 {
		c.MaxCorpusTokens = 24000
	}
	if c.DefaultCountry == "" {
		c.DefaultCountry = "GB"
	}
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
	if c.ShutdownTimeoutMS <= 0 {
		c.ShutdownTimeoutMS = 10000
	}
}

func (c *GeoConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "http://ip-api.com/json"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ------------------------------------------------------------------
// Validation
// ------------------------------------------------------------------

func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Fleet.Validate(); err != nil {
		return fmt.Errorf("fleet: %w", err)
	}
	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider: %s (supported: anthropic, gemini)", c.Provider)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 1) {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	return nil
}

func (c *FleetConfig) Validate() error {
	for name, spawn := range c.Servers {
		if name == "" {
			return fmt.Errorf("server override with empty name")
		}
		if spawn.Command == "" {
			return fmt.Errorf("server %s: command is required", name)
		}
	}
	return nil
}

func (c *WorkflowConfig) Validate() error {
	switch c.Pipeline {
	case PipelineToolUse, PipelineLegacy:
	default:
		return fmt.Errorf("unknown pipeline: %s (supported: tooluse, legacy)", c.Pipeline)
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// ------------------------------------------------------------------
// Derived values
// ------------------------------------------------------------------

// RPCTimeout returns the per-call timeout as a duration.
func (c *FleetConfig) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMS) * time.Millisecond
}

// CloseGrace returns the subprocess shutdown grace as a duration.
func (c *FleetConfig) CloseGrace() time.Duration {
	return time.Duration(c.CloseGraceMS) * time.Millisecond
}

// WorkflowTimeout returns the whole-analysis timeout as a duration.
func (c *WorkflowConfig) WorkflowTimeout() time.Duration {
	return time.Duration(c.WorkflowTimeoutMS) * time.Millisecond
}

// ShutdownTimeout returns the HTTP shutdown grace as a duration.
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// Address returns the host:port the HTTP adapter binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Default returns a fully defaulted config, the same one an empty YAML
// document loads to.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
