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

package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/consult/pkg/registry"
)

// Registry owns a fleet of knowledge server sessions: parallel startup,
// tool discovery across the fleet, call dispatch by server name, and
// teardown. A startup failure on one server never blocks the others; such
// failures are downgraded to warnings so a consultation can proceed on the
// servers that did come up.
type Registry struct {
	sessionConfig SessionConfig

	sessions *registry.BaseRegistry[*Session]

	warnMu   sync.Mutex
	warnings []string
}

// NewRegistry creates an empty fleet registry. The template carries the
// per-session settings (timeouts, client identity); Name and Spawn are taken
// from each Open spec.
func NewRegistry(template SessionConfig) *Registry {
	template.SetDefaults()
	return &Registry{
		sessionConfig: template,
		sessions:      registry.NewBaseRegistry[*Session](),
	}
}

// Open launches all servers in parallel and registers the ones that reach
// the ready state. Failures are recorded as warnings, one per server, and do
// not abort the rest of the fleet. Open returns an error only when the
// context is done or a spec is invalid before launch.
func (r *Registry) Open(ctx context.Context, specs map[string]SpawnSpec) error {
	if len(specs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, spec := range specs {
		cfg := r.sessionConfig
		cfg.Name = name
		cfg.Spawn = spec
		g.Go(func() error {
			sess, err := Open(gctx, cfg)
			if err != nil {
				if errors.Is(err, ErrCancelled) || gctx.Err() != nil {
					return fmt.Errorf("opening %s: %w", cfg.Name, ErrCancelled)
				}
				r.warnf("server %s failed to start: %v", cfg.Name, err)
				slog.Warn("Knowledge server failed to start", "server", cfg.Name, "error", err)
				return nil
			}
			if err := r.sessions.Register(cfg.Name, sess); err != nil {
				_ = sess.Close()
				return fmt.Errorf("%w: %v", ErrConfig, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Knowledge server fleet opened",
		"requested", len(specs), "ready", r.sessions.Count())
	return nil
}

// Discover runs tools/list against every ready session in parallel and
// builds the tool router. Name conflicts across servers resolve in server
// name order, first one wins; each shadowed tool produces a warning. A
// server whose discovery fails contributes no tools and produces a warning.
func (r *Registry) Discover(ctx context.Context) (*Router, error) {
	names := r.Names()

	discovered := make(map[string][]ToolDescriptor, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		sess, ok := r.sessions.Get(name)
		if !ok {
			continue
		}
		g.Go(func() error {
			tools, err := sess.ListTools(gctx)
			if err != nil {
				if errors.Is(err, ErrCancelled) || gctx.Err() != nil {
					return fmt.Errorf("discovering tools on %s: %w", name, ErrCancelled)
				}
				r.warnf("tool discovery failed on %s: %v", name, err)
				slog.Warn("Tool discovery failed", "server", name, "error", err)
				return nil
			}
			mu.Lock()
			discovered[name] = tools
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	router := newRouter(r, names, discovered)
	for _, w := range router.warnings {
		r.warnf("%s", w)
	}

	slog.Info("Tool discovery complete",
		"servers", len(discovered), "tools", len(router.descriptors))
	return router, nil
}

// Call dispatches one tool call to the named server.
func (r *Registry) Call(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	sess, ok := r.sessions.Get(server)
	if !ok {
		return "", fmt.Errorf("calling %s: %w: %s", tool, ErrUnknownServer, server)
	}
	return sess.Call(ctx, tool, args)
}

// Get returns the named session.
func (r *Registry) Get(name string) (*Session, error) {
	sess, ok := r.sessions.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return sess, nil
}

// Names returns the registered server names in sorted order.
func (r *Registry) Names() []string {
	names := r.sessions.Names()
	sort.Strings(names)
	return names
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	return r.sessions.Count()
}

// Tools returns the union of cached tool descriptors across the fleet, in
// server name order.
func (r *Registry) Tools() []ToolDescriptor {
	var out []ToolDescriptor
	for _, name := range r.Names() {
		sess, ok := r.sessions.Get(name)
		if !ok {
			continue
		}
		out = append(out, sess.Tools()...)
	}
	return out
}

// CloseAll closes every session in parallel and empties the registry.
// Subsequent calls through the registry fail with ErrUnknownServer.
func (r *Registry) CloseAll() error {
	items := r.sessions.Items()
	r.sessions.Clear()

	var wg sync.WaitGroup
	errs := make([]error, 0, len(items))
	var mu sync.Mutex

	for name, sess := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.Close(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	slog.Debug("Knowledge server fleet closed", "sessions", len(items))
	return errors.Join(errs...)
}

// Warnings returns a copy of the accumulated non-fatal fleet warnings:
// servers that failed to start, discovery failures, shadowed tool names.
func (r *Registry) Warnings() []string {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	out := make([]string, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// ClearWarnings drops the accumulated warnings.
func (r *Registry) ClearWarnings() {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	r.warnings = nil
}

func (r *Registry) warnf(format string, args ...any) {
	r.warnMu.Lock()
	defer r.warnMu.Unlock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}
