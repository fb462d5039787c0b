// Copyright 2025 Google LLC
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

// Package logger provides the leveled, structured logging gcsfuse's
// lineage carries in every complete repository: TRACE/DEBUG/INFO/WARNING/
// ERROR severities on top of log/slog, text or JSON framing, and optional
// file rotation via lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/remotefs-project/remotefs/internal/cfg"
)

// The five severities this codebase's lineage logs at, mapped onto slog's
// integer level space. TRACE sits below slog's built-in Debug; OFF sits
// above Error so no record is ever emitted at it.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

const textTimeLayout = "01/02/2006 15:04:05.000000"

func severityName(lvl slog.Level) string {
	switch {
	case lvl < LevelDebug:
		return "TRACE"
	case lvl < LevelInfo:
		return "DEBUG"
	case lvl < LevelWarn:
		return "INFO"
	case lvl < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func setLoggingLevel(severity string, programLevel *slog.LevelVar) {
	switch strings.ToUpper(severity) {
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// loggerFactory remembers enough to rebuild the handler when format,
// severity or output target changes at runtime.
type loggerFactory struct {
	format    string
	severity  string
	logRotate cfg.LogRotateConfig
	sysWriter io.Writer
	async     *AsyncLogger
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, msgPrefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: programLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) != 0 {
				return a
			}
			switch a.Key {
			case slog.LevelKey:
				lvl, _ := a.Value.Any().(slog.Level)
				return slog.String("severity", severityName(lvl))
			case slog.MessageKey:
				return slog.String("message", msgPrefix+a.Value.String())
			case slog.TimeKey:
				t := a.Value.Time()
				if f.format == "text" {
					return slog.String(slog.TimeKey, t.Format(textTimeLayout))
				}
				return slog.Group("timestamp",
					slog.Int64("seconds", t.Unix()),
					slog.Int64("nanos", int64(t.Nanosecond())),
				)
			}
			return a
		},
	}
	if f.format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

var programLevel = &slog.LevelVar{}

var defaultLoggerFactory = &loggerFactory{
	format:    "json",
	severity:  cfg.INFO,
	logRotate: cfg.DefaultLogRotateConfig(),
	sysWriter: os.Stderr,
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))

func init() {
	setLoggingLevel(cfg.INFO, programLevel)
}

// Init rebuilds the default logger from lc: if lc.FilePath is set, output
// goes to a lumberjack-rotated file through an AsyncLogger so a slow or
// stalled disk never blocks a VFS operation; otherwise it goes to stderr.
func Init(lc cfg.LoggingConfig) error {
	factory := &loggerFactory{
		format:    lc.Format,
		severity:  lc.Severity,
		logRotate: lc.LogRotate,
	}
	if factory.format == "" {
		factory.format = "json"
	}

	var w io.Writer = os.Stderr
	if lc.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(lc.FilePath),
			MaxSize:    lc.LogRotate.MaxFileSizeMB,
			MaxBackups: lc.LogRotate.BackupFileCount,
			Compress:   lc.LogRotate.Compress,
		}
		async := NewAsyncLogger(lj, 1024)
		factory.async = async
		w = async
	}
	factory.sysWriter = w

	setLoggingLevel(factory.severity, programLevel)
	defaultLoggerFactory = factory
	defaultLogger = slog.New(factory.createJsonOrTextHandler(w, programLevel, ""))
	return nil
}

// SetLogFormat switches between "text" and "json" framing without touching
// the output target or severity.
func SetLogFormat(format string) {
	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.sysWriter, programLevel, ""))
}

// Close flushes and closes the async file writer, if one is in use. Safe to
// call when logging to stderr.
func Close() error {
	if defaultLoggerFactory.async != nil {
		return defaultLoggerFactory.async.Close()
	}
	return nil
}

func logf(level slog.Level, format string, v ...any) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...any) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(LevelError, format, v...) }

// Default returns the package's shared *slog.Logger for components (like
// internal/changes) that prefer slog's structured call style over the
// printf-style helpers above.
func Default() *slog.Logger { return defaultLogger }
