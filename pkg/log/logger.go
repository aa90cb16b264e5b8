// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"os"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelPanic is the severity for panic messages.
	LevelPanic
	// LevelFatal is the severity for fatal errors.
	LevelFatal
	// levelHighest is the highest externally visible level
	levelHighest
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logger is an index into the table of known log sources.
type logger uint16

// srcstate is the runtime state of a single log source.
type srcstate struct {
	name      string
	logging   bool
	debugging bool
}

func (l logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()

	src := &log.sources[l]
	old := src.debugging
	src.debugging = state

	return old
}

func (l logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()

	return log.sources[l].debugging || log.forced
}

func (l logger) Source() string {
	log.RLock()
	defer log.RUnlock()

	return log.sources[l].name
}

func (l logger) Debug(format string, args ...interface{}) {
	if src, active, emit := l.check(LevelDebug); emit {
		active.Log(LevelDebug, src, format, args...)
	}
}

func (l logger) Info(format string, args ...interface{}) {
	if src, active, emit := l.check(LevelInfo); emit {
		active.Log(LevelInfo, src, format, args...)
	}
}

func (l logger) Warn(format string, args ...interface{}) {
	if src, active, emit := l.check(LevelWarn); emit {
		active.Log(LevelWarn, src, format, args...)
	}
}

func (l logger) Error(format string, args ...interface{}) {
	if src, active, emit := l.check(LevelError); emit {
		active.Log(LevelError, src, format, args...)
	}
}

func (l logger) Fatal(format string, args ...interface{}) {
	src, active, _ := l.check(LevelFatal)
	active.Log(LevelFatal, src, format, args...)
	active.Sync()

	os.Exit(1)
}

func (l logger) Panic(format string, args ...interface{}) {
	src, active, _ := l.check(LevelPanic)
	active.Log(LevelPanic, src, format, args...)
	active.Sync()

	panic(fmt.Sprintf(src+" "+format, args...))
}

func (l logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if src, active, emit := l.check(LevelDebug); emit {
		active.Block(LevelDebug, src, prefix, format, args...)
	}
}

func (l logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if src, active, emit := l.check(LevelInfo); emit {
		active.Block(LevelInfo, src, prefix, format, args...)
	}
}

// check returns the source, the active backend and whether the level is emitted.
func (l logger) check(level Level) (string, Backend, bool) {
	log.RLock()
	defer log.RUnlock()

	src := log.sources[l]
	switch {
	case level == LevelDebug:
		return src.name, log.active, src.debugging || log.forced
	case level < log.level:
		return src.name, log.active, false
	case level == LevelInfo:
		return src.name, log.active, src.logging
	default:
		return src.name, log.active, true
	}
}
