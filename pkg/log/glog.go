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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	*Writer
}

// glogTime is the glog timestamp layout: month, day and the time of day with
// microseconds.
const glogTime = "0102 15:04:05.000000"

// pid is the space padded process ID that glog prints as the thread ID.
var pid = fmt.Sprintf("%7d", os.Getpid())

// levelLetter returns the glog severity letter of level.
func levelLetter(level Level) byte {
	switch level {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	default:
		return 'W'
	}
}

// caller returns "file:line" of the function depth frames above its caller.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???:0"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Emit emits the message, google-style:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// L is the level letter (D, I or W).
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	b := make([]byte, 0, 64+len(format))
	b = append(b, levelLetter(level))
	b = timestamp.AppendFormat(b, glogTime)
	b = append(b, ' ')
	b = append(b, pid...)
	b = append(b, ' ')
	b = append(b, caller(depth+1)...)
	b = append(b, "] "...)
	b = append(b, format...)
	b = append(b, '\n')
	g.Writer.Emit(depth+1, level, timestamp, string(b), args...)
}
