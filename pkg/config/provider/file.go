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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// writeSettle coalesces the burst of events an editor or config-map update
// produces for a single logical change.
const writeSettle = 100 * time.Millisecond

// FileProvider reads configuration from a local file and can watch it for
// changes through fsnotify.
type FileProvider struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileProvider creates a provider over the given path. The path is
// resolved to absolute immediately so later chdir calls cannot move it.
func NewFileProvider(path string) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return &FileProvider{path: abs}, nil
}

func (p *FileProvider) Type() Type {
	return TypeFile
}

// Load reads the whole file.
func (p *FileProvider) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}
	return data, nil
}

// Watch signals on the returned channel after the file changes. The watch is
// installed on the parent directory, not the file itself, so atomic
// rename-into-place updates are seen too.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(p.path), err)
	}
	p.watcher = watcher

	signal := make(chan struct{}, 1)
	go p.run(ctx, watcher, signal)

	slog.Info("Watching config file", "path", p.path)
	return signal, nil
}

func (p *FileProvider) run(ctx context.Context, watcher *fsnotify.Watcher, signal chan<- struct{}) {
	defer close(signal)
	defer watcher.Close()

	var settle *time.Timer
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	notify := func() {
		select {
		case signal <- struct{}{}:
			slog.Debug("Config file changed", "path", p.path)
		default:
			// A change is already pending.
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(p.path) {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
				if settle != nil {
					settle.Stop()
				}
				settle = time.AfterFunc(writeSettle, notify)
			case event.Op.Has(fsnotify.Remove):
				slog.Warn("Config file was deleted", "path", p.path)
				go p.rewatch(ctx, watcher, notify)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

// rewatch polls for the file to reappear after a delete, then re-adds the
// directory watch and fires one notification for whatever replaced the file.
// Gives up after five seconds.
func (p *FileProvider) rewatch(ctx context.Context, watcher *fsnotify.Watcher, notify func()) {
	deadline := time.Now().Add(5 * time.Second)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(p.path); err != nil {
				continue
			}
			if err := watcher.Add(filepath.Dir(p.path)); err != nil {
				continue
			}
			slog.Info("Re-established watch on config file", "path", p.path)
			notify()
			return
		}
	}
	slog.Warn("Failed to re-establish watch on config file", "path", p.path)
}

// Close stops any watch and marks the provider unusable.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

var _ Provider = (*FileProvider)(nil)
