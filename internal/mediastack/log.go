/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mediastack

import (
	pionLogging "github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

type leveledLogrusLogger struct {
	logrus.FieldLogger
}

func (ll *leveledLogrusLogger) Trace(msg string) {
	// Pion trace output is too verbose for any of our log levels.
}
func (ll *leveledLogrusLogger) Tracef(format string, args ...interface{}) {
}
func (ll *leveledLogrusLogger) Debug(msg string) {
	ll.FieldLogger.Debugln(msg)
}
func (ll *leveledLogrusLogger) Info(msg string) {
	ll.FieldLogger.Infoln(msg)
}
func (ll *leveledLogrusLogger) Warn(msg string) {
	ll.FieldLogger.Warnln(msg)
}
func (ll *leveledLogrusLogger) Error(msg string) {
	ll.FieldLogger.Errorln(msg)
}

type loggerFactory struct {
	logger logrus.FieldLogger
}

// NewLoggerFactory returns a pion LoggerFactory which logs to the provided
// logger, adding the pion scope as field.
func NewLoggerFactory(logger logrus.FieldLogger) pionLogging.LoggerFactory {
	return &loggerFactory{
		logger: logger,
	}
}

func (factory *loggerFactory) NewLogger(scope string) pionLogging.LeveledLogger {
	return &leveledLogrusLogger{factory.logger.WithField("pion", scope)}
}
