// Copyright (C) 2019 Nicola Murino
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package logger provides logging capabilities.
// It is a wrapper around zerolog for logging and lumberjack for log rotation.
// Logs are written to the specified log file or to standard output.
// The log events are tagged with a "sender" field identifying the subsystem
// that produced them
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	dateFormat = "2006-01-02T15:04:05.000" // YYYY-MM-DDTHH:MM:SS.ZZZ
)

var (
	logger        = zerolog.Nop()
	consoleLogger = zerolog.Nop()
	rollingLogger *lumberjack.Logger
)

// GetLogger get the configured logger instance
func GetLogger() *zerolog.Logger {
	return &logger
}

// InitLogger configures the logger using the given parameters
func InitLogger(logFilePath string, logMaxSize, logMaxBackups, logMaxAge int, logCompress, logUTCTime bool,
	level zerolog.Level,
) {
	zerolog.TimeFieldFormat = dateFormat
	if logUTCTime {
		zerolog.TimestampFunc = func() time.Time {
			return time.Now().UTC()
		}
	}
	if isLogFilePathValid(logFilePath) {
		logDir := filepath.Dir(logFilePath)
		if _, err := os.Stat(logDir); os.IsNotExist(err) {
			err = os.MkdirAll(logDir, os.ModePerm)
			if err != nil {
				fmt.Printf("unable to create log dir %q: %v", logDir, err)
			}
		}
		rollingLogger = &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    logMaxSize,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAge,
			Compress:   logCompress,
		}
		logger = zerolog.New(rollingLogger).With().Timestamp().Logger().Level(level)
		EnableConsoleLogger(level)
	} else {
		logger = zerolog.New(&logSyncWrapper{output: os.Stdout}).With().Timestamp().Logger().Level(level)
		consoleLogger = zerolog.Nop()
	}
}

// InitStdErrLogger configures the logger to write to stderr
func InitStdErrLogger(level zerolog.Level) {
	logger = zerolog.New(&logSyncWrapper{output: os.Stderr}).With().Timestamp().Logger().Level(level)
	consoleLogger = zerolog.Nop()
}

// DisableLogger disables the logger
func DisableLogger() {
	logger = zerolog.Nop()
	consoleLogger = zerolog.Nop()
}

// EnableConsoleLogger enables the console logger
func EnableConsoleLogger(level zerolog.Level) {
	consoleOutput := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: dateFormat,
		NoColor:    false,
	}
	consoleLogger = zerolog.New(consoleOutput).With().Timestamp().Logger().Level(level)
}

// RotateLogFile closes the existing log file and immediately creates a new one
func RotateLogFile() error {
	if rollingLogger != nil {
		return rollingLogger.Rotate()
	}
	return fmt.Errorf("logging to file is disabled")
}

// Debug logs at debug level for the specified sender
func Debug(sender, connectionID, format string, v ...any) {
	logger.Debug().
		Str("sender", sender).
		Str("connection_id", connectionID).
		Msg(fmt.Sprintf(format, v...))
}

// Info logs at info level for the specified sender
func Info(sender, connectionID, format string, v ...any) {
	logger.Info().
		Str("sender", sender).
		Str("connection_id", connectionID).
		Msg(fmt.Sprintf(format, v...))
}

// Warn logs at warn level for the specified sender
func Warn(sender, connectionID, format string, v ...any) {
	logger.Warn().
		Str("sender", sender).
		Str("connection_id", connectionID).
		Msg(fmt.Sprintf(format, v...))
}

// Error logs at error level for the specified sender
func Error(sender, connectionID, format string, v ...any) {
	logger.Error().
		Str("sender", sender).
		Str("connection_id", connectionID).
		Msg(fmt.Sprintf(format, v...))
}

// DebugToConsole logs at debug level to stdout
func DebugToConsole(format string, v ...any) {
	consoleLogger.Debug().Msg(fmt.Sprintf(format, v...))
}

// InfoToConsole logs at info level to stdout
func InfoToConsole(format string, v ...any) {
	consoleLogger.Info().Msg(fmt.Sprintf(format, v...))
}

// WarnToConsole logs at warn level to stdout
func WarnToConsole(format string, v ...any) {
	consoleLogger.Warn().Msg(fmt.Sprintf(format, v...))
}

// ErrorToConsole logs at error level to stdout
func ErrorToConsole(format string, v ...any) {
	consoleLogger.Error().Msg(fmt.Sprintf(format, v...))
}

func isLogFilePathValid(logFilePath string) bool {
	cleanInput := filepath.Clean(logFilePath)
	if cleanInput == "." || cleanInput == ".." {
		return false
	}
	return len(logFilePath) > 0
}
