// Copyright 2026 The Velo Rift Authors.
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

// Package logger provides the structured logging used across the daemon,
// the interposer engine and the command-line front end. It layers a
// TRACE level beneath slog's built-in levels and renders either a
// single-line text format or a line-delimited JSON format, matching the
// two formats operators already pipe through log collectors.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/velo-rift/vrift/internal/config"
)

// LevelTrace sits one tier below slog.LevelDebug.
const LevelTrace slog.Level = slog.LevelDebug - 4

type loggerFactory struct {
	format string
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &severityHandler{
		format: f.format,
		prefix: prefix,
		level:  level,
		out:    w,
	}
}

var (
	defaultLoggerFactory = &loggerFactory{format: "text"}
	programLevel         = new(slog.LevelVar)
	defaultLogger        = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
	mu                   sync.Mutex
)

// severityHandler is a minimal slog.Handler that renders exactly the two
// wire formats vrift operators expect. It intentionally does not support
// structured attrs beyond the message: every call site here formats its own
// message with fmt.Sprintf, the way the teacher's Tracef/Debugf/... helpers
// do.
type severityHandler struct {
	format string
	prefix string
	level  *slog.LevelVar
	out    io.Writer
	mu     sync.Mutex
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func severityName(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return config.TRACE
	case level < slog.LevelInfo:
		return config.DEBUG
	case level < slog.LevelWarn:
		return config.INFO
	case level < slog.LevelError:
		return config.WARNING
	default:
		return config.ERROR
	}
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := h.prefix + r.Message
	severity := severityName(r.Level)

	switch h.format {
	case "json":
		_, err := fmt.Fprintf(h.out, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
			r.Time.Unix(), r.Time.Nanosecond(), severity, msg)
		return err
	default:
		_, err := fmt.Fprintf(h.out, "time=%q severity=%s message=%q\n",
			r.Time.Format("2006/01/02 15:04:05.000000"), severity, msg)
		return err
	}
}

func (h *severityHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *severityHandler) WithGroup(_ string) slog.Handler      { return h }

func setLoggingLevel(severity string, levelVar *slog.LevelVar) {
	switch severity {
	case config.TRACE:
		levelVar.Set(LevelTrace)
	case config.DEBUG:
		levelVar.Set(slog.LevelDebug)
	case config.INFO:
		levelVar.Set(slog.LevelInfo)
	case config.WARNING:
		levelVar.Set(slog.LevelWarn)
	case config.ERROR:
		levelVar.Set(slog.LevelError)
	case config.OFF:
		levelVar.Set(slog.Level(1 << 20))
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Init (re)configures the default logger's format and writer. w defaults to
// os.Stderr when nil. Called once at process bootstrap by cmd/vrift's root
// command.
func Init(format, severity string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if w == nil {
		w = os.Stderr
	}
	defaultLoggerFactory = &loggerFactory{format: format}
	setLoggingLevel(severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

// SetSeverity changes the active log level without touching the writer or
// format, used when VRIFT_DEBUG/VELO_DEBUG is read after Init has already
// run.
func SetSeverity(severity string) {
	mu.Lock()
	defer mu.Unlock()
	setLoggingLevel(severity, programLevel)
}

func log(level slog.Level, format string, v ...any) {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	l.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

// Tracef logs at TRACE severity.
func Tracef(format string, v ...any) { log(LevelTrace, format, v...) }

// Debugf logs at DEBUG severity.
func Debugf(format string, v ...any) { log(slog.LevelDebug, format, v...) }

// Infof logs at INFO severity.
func Infof(format string, v ...any) { log(slog.LevelInfo, format, v...) }

// Warnf logs at WARNING severity.
func Warnf(format string, v ...any) { log(slog.LevelWarn, format, v...) }

// Errorf logs at ERROR severity.
func Errorf(format string, v ...any) { log(slog.LevelError, format, v...) }

// Elapsed is a small helper for `defer logger.Elapsed(...)()`-style timing
// of expensive operations (journal replay, catalog rebuild).
func Elapsed(op string) func() {
	start := time.Now()
	return func() {
		Debugf("%s took %s", op, time.Since(start))
	}
}
