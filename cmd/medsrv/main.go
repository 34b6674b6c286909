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

// Command medsrv is a scripted knowledge server for demos and integration
// testing. It speaks MCP over stdio and answers tool calls from a YAML
// fixture file instead of a real guideline backend, so a full analysis can
// run without network access or credentials.
//
// Usage:
//
//	medsrv fixtures.yaml
//	medsrv fixtures.yaml --handshake-delay=2s
//	medsrv fixtures.yaml --fail=search_guidelines
//
// stdout carries the protocol; all diagnostics go to stderr.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kadirpekel/consult/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Fixtures       string        `arg:"" help:"YAML fixture file describing the server and its tools." type:"path"`
	HandshakeDelay time.Duration `help:"Sleep this long before serving, to simulate a slow server start."`
	Fail           []string      `help:"Tool names that fail every call regardless of fixture data."`
	LogLevel       string        `help:"Log level (debug, info, warn, error)." default:"info"`
}

// Run loads the fixture and serves it on stdio until the client closes the
// pipe or the process is signalled.
func (c *CLI) Run() error {
	fixture, err := LoadFixture(c.Fixtures)
	if err != nil {
		return err
	}

	srv := BuildServer(fixture, failSet(c.Fail))

	if c.HandshakeDelay > 0 {
		slog.Info("Delaying startup", "delay", c.HandshakeDelay)
		time.Sleep(c.HandshakeDelay)
	}

	slog.Info("Serving on stdio", "name", fixture.Name, "tools", len(fixture.Tools))
	return server.ServeStdio(srv)
}

func failSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("medsrv"),
		kong.Description("medsrv - Scripted MCP knowledge server for demos and tests"),
		kong.UsageOnError(),
	)

	// stdout is the protocol channel, so the logger must not touch it.
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, "simple")

	ctx.FatalIfErrorf(ctx.Run())
}
