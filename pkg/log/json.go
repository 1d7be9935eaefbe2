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
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// levelNames are the JSON names of the levels, indexed by Level.
var levelNames = [...]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("unknown level %v", l)
	}
	return json.Marshal(levelNames[l])
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. Both the names
// written by MarshalJSON and plain integers are accepted.
func (l *Level) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		for i, n := range levelNames {
			if n == name {
				*l = Level(i)
				return nil
			}
		}
		return fmt.Errorf("unknown level %q", name)
	}
	n, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil || n >= uint64(len(levelNames)) {
		return fmt.Errorf("unknown level %s", b)
	}
	*l = Level(n)
	return nil
}

// jsonRecord is one line of JSONEmitter output.
type jsonRecord struct {
	Msg    string            `json:"msg"`
	Level  Level             `json:"level"`
	Time   time.Time         `json:"time"`
	Caller string            `json:"caller"`
	Fields map[string]string `json:"fields,omitempty"`
}

// JSONEmitter logs messages in json format, one object per line.
type JSONEmitter struct {
	*Writer

	// Fields are attached to every record, e.g. the command being run.
	Fields map[string]string
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	b, err := json.Marshal(jsonRecord{
		Msg:    fmt.Sprintf(format, v...),
		Level:  level,
		Time:   timestamp,
		Caller: caller(depth + 1),
		Fields: e.Fields,
	})
	if err != nil {
		panic(err)
	}
	e.Writer.Write(b)
}
