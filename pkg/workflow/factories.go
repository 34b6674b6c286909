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

package workflow

import (
	"fmt"
	"path/filepath"

	"github.com/kadirpekel/consult/pkg/config"
	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/llm"
	"github.com/kadirpekel/consult/pkg/llm/anthropic"
	"github.com/kadirpekel/consult/pkg/llm/gemini"
)

// NewLLMClient builds the model client for the configured provider. An
// empty API key yields a nil client, not an error: the orchestrator then
// degrades to warning-tagged empty reports.
func NewLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}

	switch cfg.Provider {
	case config.ProviderAnthropic, "":
		return anthropic.New(anthropic.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			MaxRetries:  cfg.MaxRetries,
		})

	case config.ProviderGemini:
		gcfg := gemini.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}
		if cfg.Temperature != nil {
			gcfg.Temperature = *cfg.Temperature
		}
		return gemini.New(gcfg)

	default:
		return nil, fmt.Errorf("%w: unsupported llm provider: %s", fleet.ErrConfig, cfg.Provider)
	}
}

// configSpecSource resolves server names against the fleet configuration:
// explicit overrides win, everything else follows the conventional layout
// <servers_dir>/<name>/server.py run with python3.
type configSpecSource struct {
	fleet config.FleetConfig
}

// NewSpecSource builds a SpecSource from the fleet configuration.
func NewSpecSource(cfg config.FleetConfig) SpecSource {
	return configSpecSource{fleet: cfg}
}

func (s configSpecSource) SpawnSpecs(serverNames []string) map[string]fleet.SpawnSpec {
	specs := make(map[string]fleet.SpawnSpec, len(serverNames))
	for _, name := range serverNames {
		if override, ok := s.fleet.Servers[name]; ok {
			specs[name] = fleet.SpawnSpec{
				Command: override.Command,
				Args:    override.Args,
				Env:     override.Env,
			}.Resolve(s.fleet.ServersDir)
			continue
		}
		specs[name] = fleet.SpawnSpec{
			Command: "python3",
			Args:    []string{filepath.Join(s.fleet.ServersDir, name, "server.py")},
		}
	}
	return specs
}
