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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/consult/pkg/config/provider"
)

// Loader turns provider bytes into validated Config values: parse, expand
// environment references, weakly decode, default, validate.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange registers a callback invoked with each successfully reloaded
// config during Watch.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader over the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load runs the full pipeline once and returns the validated config.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	raw, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{}
	if err := decode(expandValue(raw).(map[string]any), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Watch blocks until ctx is done, reloading on every change signal from the
// provider. A reload that fails to parse or validate is logged and skipped;
// the previous config stays in effect.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if changes == nil {
		slog.Info("Config watching not supported by provider", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Started watching for config changes", "type", l.provider.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	cfg, err := l.Load(ctx)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}
	slog.Info("Configuration reloaded successfully")
	if l.onChange != nil {
		l.onChange(cfg)
	}
}

// Close releases the underlying provider.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// LoadConfigFile loads and validates a config file. The returned loader can
// Watch the same file; the caller owns closing it.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// parseDocument decodes config bytes into a generic map. YAML is tried
// first; JSON is the fallback for documents YAML rejects.
func parseDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err == nil {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}
	return doc, nil
}

// decode maps the generic document onto Config. Decoding is weak (strings
// coerce to numbers and durations, comma-joined strings to slices) so env
// expansion can feed any field.
func decode(doc map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return dec.Decode(doc)
}

// expandValue walks the document and expands environment references inside
// every string scalar.
func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = expandValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = expandValue(item)
		}
		return out
	default:
		return v
	}
}

// expandEnvString substitutes $VAR and ${VAR} from the environment, with the
// shell-style ${VAR:-default} fallback for unset or empty variables.
func expandEnvString(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		return ""
	})
}
