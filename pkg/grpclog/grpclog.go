// Copyright 2022 Intel Corporation. All Rights Reserved.
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

// Package grpclog routes gRPC library logging through our rate-limited loggers.
package grpclog

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc/grpclog"

	logger "github.com/intel/segmgr/pkg/log"
)

const (
	// grpcLog is the name of the logger we use for grpc logging.
	grpcLog = "grpc-lib"
)

var (
	// Default rate limit interval.
	defaultInterval = 5 * time.Minute
	// Default bursts per rate-limit interval.
	defaultBurst = 1
	// Minimum level to pass through.
	level = logger.LevelWarn
	// V()-logging verbosity.
	verbosity = -1
)

// grpcLogger implements grpclog.LoggerV2 on top of a Logger.
type grpcLogger struct {
	log   logger.Logger
	level logger.Level
}

// SetLogger sets up a rate-limited logger for gRPC log messages.
func SetLogger() {
	RateLimit(defaultInterval, defaultBurst)
}

// RateLimit sets up a logger for gRPC log messages with the given rate limit.
func RateLimit(interval time.Duration, burst int) {
	grpclog.SetLoggerV2(newLogger(interval, burst))
}

func newLogger(interval time.Duration, burst int) *grpcLogger {
	if interval == 0 {
		interval = defaultInterval
	}
	if burst <= 0 {
		burst = defaultBurst
	}

	rate := logger.Rate{Limit: logger.Every(interval), Burst: burst}
	return &grpcLogger{
		log:   logger.RateLimit(logger.NewLogger(grpcLog), rate),
		level: level,
	}
}

func (l *grpcLogger) Info(args ...interface{}) {
	if l.level <= logger.LevelInfo {
		l.log.Info("%s", fmt.Sprint(args...))
	}
}

func (l *grpcLogger) Infoln(args ...interface{}) {
	l.Info(args...)
}

func (l *grpcLogger) Infof(format string, args ...interface{}) {
	if l.level <= logger.LevelInfo {
		l.log.Info(format, args...)
	}
}

func (l *grpcLogger) Warning(args ...interface{}) {
	if l.level <= logger.LevelWarn {
		l.log.Warn("%s", fmt.Sprint(args...))
	}
}

func (l *grpcLogger) Warningln(args ...interface{}) {
	l.Warning(args...)
}

func (l *grpcLogger) Warningf(format string, args ...interface{}) {
	if l.level <= logger.LevelWarn {
		l.log.Warn(format, args...)
	}
}

func (l *grpcLogger) Error(args ...interface{}) {
	l.log.Error("%s", fmt.Sprint(args...))
}

func (l *grpcLogger) Errorln(args ...interface{}) {
	l.Error(args...)
}

func (l *grpcLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(format, args...)
}

func (l *grpcLogger) Fatal(args ...interface{}) {
	l.log.Fatal("%s", fmt.Sprint(args...))
}

func (l *grpcLogger) Fatalln(args ...interface{}) {
	l.Fatal(args...)
}

func (l *grpcLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatal(format, args...)
}

func (l *grpcLogger) V(lvl int) bool {
	return verbosity > 0 && lvl >= verbosity
}

// Read and set up defaults from environment variables.
func init() {
	if str, ok := os.LookupEnv("SEGMGR_GRPCLOG_INTERVAL"); ok {
		if interval, err := time.ParseDuration(str); err != nil {
			logger.Error("grpclog: invalid interval %q: %v", str, err)
		} else {
			defaultInterval = interval
		}
	}
	if str, ok := os.LookupEnv("SEGMGR_GRPCLOG_BURST"); ok {
		if burst, err := strconv.Atoi(str); err != nil || burst < 1 {
			logger.Error("grpclog: invalid burst %q", str)
		} else {
			defaultBurst = burst
		}
	}
	if str, ok := os.LookupEnv("SEGMGR_GRPCLOG_LEVEL"); ok {
		if err := level.Set(str); err != nil {
			logger.Error("grpclog: ignoring filtering level %q: %v", str, err)
		}
	}
	if str, ok := os.LookupEnv("SEGMGR_GRPCLOG_VERBOSE"); ok {
		if v, err := strconv.Atoi(str); err != nil {
			logger.Error("grpclog: invalid verbosity %q: %v", str, err)
		} else {
			verbosity = v
		}
	}
}
