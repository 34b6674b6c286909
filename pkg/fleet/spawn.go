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
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
)

// SpawnSpec describes how to launch one knowledge server. Servers speak the
// MCP stdio protocol: line-delimited JSON-RPC over the child's stdin/stdout.
//
// When InProcess is set the server runs inside the current process instead of
// a child process. That path is used by tests and by embedders that bundle
// their own knowledge servers; Command and Args are ignored then.
type SpawnSpec struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	InProcess *server.MCPServer `yaml:"-" json:"-"`
}

// Resolve anchors a relative Command under serversDir. Absolute commands and
// bare names (resolved via PATH) pass through unchanged.
func (s SpawnSpec) Resolve(serversDir string) SpawnSpec {
	if serversDir == "" || s.Command == "" || s.InProcess != nil {
		return s
	}
	if filepath.IsAbs(s.Command) || filepath.Base(s.Command) == s.Command {
		return s
	}
	s.Command = filepath.Join(serversDir, s.Command)
	return s
}

// Validate checks that the spec names a launchable server.
func (s SpawnSpec) Validate() error {
	if s.InProcess == nil && s.Command == "" {
		return fmt.Errorf("%w: spawn spec needs a command or an in-process server", ErrConfig)
	}
	return nil
}

// convertEnv converts an environment map to KEY=value pairs for exec.
func convertEnv(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}
	return result
}
