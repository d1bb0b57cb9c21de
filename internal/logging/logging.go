/*
Copyright 2026 The ioslink authors.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package logging wires go.uber.org/zap into the go-logr/logr interface
// that every package in this repo accepts (logr.Logger as the call-site
// type, zap as the backend).
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds a logr.Logger backed by zap. Development mode uses a
// console encoder with ISO8601 timestamps, mirroring the
// zap.Options{Development: true, TimeEncoder: zapcore.ISO8601TimeEncoder}
// configuration commonly bound to CLI flags.
func NewZapLogger(development bool) logr.Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	z, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

// OrDiscard returns l unchanged unless it is the zero value, in which case
// it returns a discarding logger. Every constructor in this repo that takes
// an optional logr.Logger runs its argument through this so nil-ish loggers
// never need a special case at the call site.
func OrDiscard(l logr.Logger) logr.Logger {
	if l.GetSink() == nil {
		return logr.Discard()
	}
	return l
}
