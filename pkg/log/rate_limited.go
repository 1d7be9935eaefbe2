// Copyright 2026 The e2meta Authors.
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
	"time"

	"golang.org/x/time/rate"
)

// rateLimitedLogger drops messages that exceed its limiter. Dropped messages
// are not counted.
type rateLimitedLogger struct {
	Logger
	limit *rate.Limiter
}

// Debugf implements Logger.Debugf.
func (rl *rateLimitedLogger) Debugf(format string, v ...any) {
	if rl.IsLogging(Debug) && rl.limit.Allow() {
		rl.Logger.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *rateLimitedLogger) Infof(format string, v ...any) {
	if rl.IsLogging(Info) && rl.limit.Allow() {
		rl.Logger.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *rateLimitedLogger) Warningf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.Logger.Warningf(format, v...)
	}
}

// BasicRateLimitedLogger returns a Logger that logs to the global logger at
// most once per every.
//
// A scan over a damaged inode table can report the same bad block thousands
// of times; loops like that should log through one of these.
func BasicRateLimitedLogger(every time.Duration) Logger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a Logger that logs to logger at most once per
// every.
func RateLimitedLogger(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		Logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
