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

package main

import (
	"fmt"
	"log/slog"
	"os"
)

const (
	// LogFileEnvVar is the environment variable name for log file path.
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level.
	LogLevelEnvVar = "LOG_LEVEL"
)

// initLogger configures the process-wide slog default.
// Priority: CLI flags > env vars > defaults (info level, stderr).
// Returns a cleanup function that closes the log file, if any.
func initLogger(cliLevel, cliFile string) (func(), error) {
	levelName := cliLevel
	if levelName == "" {
		levelName = os.Getenv(LogLevelEnvVar)
	}
	if levelName == "" {
		levelName = "info"
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	logFile := cliFile
	if logFile == "" {
		logFile = os.Getenv(LogFileEnvVar)
	}

	output := os.Stderr
	var cleanup func()
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = func() { _ = file.Close() }
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: level,
	})))
	return cleanup, nil
}
