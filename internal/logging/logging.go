/*
Copyright 2026 The tac-webbuilder Authors.

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

// Package logging constructs the process's zap logger and exposes a
// logr.Logger adapter for the coordinator's startup reconciliation path,
// which is written against the logr interface so it composes the same
// way as controller-runtime-adjacent code in the wider ecosystem.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger. format is "json" or "console"; level is any
// zapcore.Level name ("debug", "info", "warn", "error").
func New(level, format string) (*zap.Logger, error) {
	var zc zap.Config
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	return zc.Build()
}

// Logr adapts a zap.Logger to logr.Logger for components built against
// the logr interface, such as the coordinator's reconciliation path.
func Logr(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}
