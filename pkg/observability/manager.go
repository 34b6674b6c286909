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

package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Config groups the observability knobs.
type Config struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Tracing TracerConfig  `yaml:"tracing,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
}

func (c *Config) Validate() error {
	return c.Tracing.Validate()
}

// Manager ties tracing and metrics setup to the server lifecycle: Initialize
// during startup, Shutdown during drain. Hot paths read instrumentation
// through the package-level GetTracer and GetGlobalMetrics rather than
// through the manager.
type Manager struct {
	mu             sync.Mutex
	config         Config
	tracerProvider trace.TracerProvider
}

func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Initialize installs the global tracer provider and metric recorder.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitGlobalTracer(ctx, m.config.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	SetGlobalMetrics(metrics)

	return nil
}

// Shutdown flushes pending spans. The SDK provider exposes Shutdown; the
// noop provider installed when tracing is disabled does not, and needs none.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tp, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
