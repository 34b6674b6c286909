// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"golang.org/x/term"
)

const modulePrefix = "github.com/kadirpekel/consult"

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name to its slog value. Unknown names fall back
// to warn instead of failing.
func ParseLevel(levelStr string) (slog.Level, error) {
	if level, ok := levelNames[strings.ToLower(levelStr)]; ok {
		return level, nil
	}
	return slog.LevelWarn, nil
}

// moduleFilter suppresses records emitted by other modules unless the
// configured level is debug. slog.SetDefault routes every slog user in the
// process through this handler, dependencies included, and most of them are
// far too chatty for normal operation.
type moduleFilter struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *moduleFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *moduleFilter) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel > slog.LevelDebug && !fromThisModule(record.PC) {
		return nil
	}
	return h.handler.Handle(ctx, record)
}

func (h *moduleFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleFilter{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *moduleFilter) WithGroup(name string) slog.Handler {
	return &moduleFilter{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// fromThisModule reports whether the record's call site lives in this
// module. A zero program counter means the record was built by hand, which
// is treated as foreign.
func fromThisModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePrefix) || strings.Contains(file, "consult/")
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiCyan
	default:
		return ansiGray
	}
}

func isTerminal(file *os.File) bool {
	return term.IsTerminal(int(file.Fd()))
}

// lineHandler renders records as single "LEVEL message key=value" lines,
// optionally colored and optionally stamped with the record time. The line
// shape is the same whether or not output is a terminal; color is the only
// difference.
type lineHandler struct {
	handler  slog.Handler
	writer   io.Writer
	useColor bool
	verbose  bool
}

func (h *lineHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder

	if h.verbose && !record.Time.IsZero() {
		b.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	if h.useColor {
		b.WriteString(levelColor(record.Level))
		b.WriteString(record.Level.String())
		b.WriteString(ansiReset)
	} else {
		b.WriteString(record.Level.String())
	}
	b.WriteByte(' ')
	b.WriteString(record.Message)

	record.Attrs(func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{
		handler:  h.handler.WithAttrs(attrs),
		writer:   h.writer,
		useColor: h.useColor,
		verbose:  h.verbose,
	}
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	return &lineHandler{
		handler:  h.handler.WithGroup(name),
		writer:   h.writer,
		useColor: h.useColor,
		verbose:  h.verbose,
	}
}

// Init installs the process-wide logger. Output to a terminal gets ANSI
// level colors. format selects the line shape: "simple" (the default) is
// level and message, "verbose" adds a timestamp, and any other value falls
// back to slog's standard text output.
func Init(level slog.Level, output *os.File, format string) {
	base := slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})

	var handler slog.Handler = base
	switch format {
	case "simple", "":
		handler = &lineHandler{handler: base, writer: output, useColor: isTerminal(output)}
	case "verbose":
		handler = &lineHandler{handler: base, writer: output, useColor: isTerminal(output), verbose: true}
	}

	slog.SetDefault(slog.New(&moduleFilter{handler: handler, minLevel: level}))
}

// OpenLogFile opens or creates an append-mode log file and returns the
// handle together with a cleanup function that closes it.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}
