/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging builds the zap logger shared by every command: JSON to
// stdout in production, console-encoded in development. WithRun derives a
// child logger tagged with a run's identifiers.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the zap encoder.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Options configures the base logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format Format
}

// New builds a zap.Logger writing to stdout from opts. An empty level keeps
// the format's default level and an unrecognized level is returned as an
// error; an unrecognized format falls back to json.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Format == FormatConsole {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	if opts.Level != "" {
		level := zapcore.InfoLevel
		if err := level.Set(opts.Level); err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	return cfg.Build()
}

// WithRun returns a child logger tagged with the run's identifiers, so
// every log line emitted during one pipeline invocation can be correlated
// without passing them through every call explicitly.
func WithRun(logger *zap.Logger, runID, traceID string) *zap.Logger {
	return logger.With(zap.String("run_id", runID), zap.String("trace_id", traceID))
}
