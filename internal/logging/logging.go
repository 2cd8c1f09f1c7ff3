/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, "", nil)
}

// SetupWithWriter configures zerolog and tees JSON lines to additional (the
// log buffer). An unparseable level falls back to the environment default.
func SetupWithWriter(environment, level string, additional io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writer io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	if environment == "production" {
		writer = os.Stdout
	}
	if additional != nil {
		writer = zerolog.MultiLevelWriter(writer, additional)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(Level(environment, level))
	log.Logger = logger
	return logger
}

// Level resolves the log level for an environment and optional override.
func Level(environment, override string) zerolog.Level {
	if override != "" {
		if lvl, err := zerolog.ParseLevel(override); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if environment == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
