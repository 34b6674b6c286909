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

// Command consult is the CLI for the clinical decision support engine.
//
// Usage:
//
//	consult serve --config consult.yaml
//	consult analyze --country GB "3-year-old with croup and stridor"
//	consult regions
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/consult"
	"github.com/kadirpekel/consult/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Analyze AnalyzeCmd `cmd:"" help:"Run one analysis and print the report."`
	Regions RegionsCmd `cmd:"" help:"List region profiles and their knowledge servers."`
	Schema  SchemaCmd  `cmd:"" help:"Print the clinical answer JSON schema."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(consult.GetVersion())
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("consult"),
		kong.Description("consult - Region-aware clinical decision support engine"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
