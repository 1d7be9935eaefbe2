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
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLevelJSON(t *testing.T) {
	for _, test := range []struct {
		level Level
		json  string
	}{
		{Warning, `"warning"`},
		{Info, `"info"`},
		{Debug, `"debug"`},
	} {
		b, err := json.Marshal(test.level)
		if err != nil {
			t.Fatalf("json.Marshal(%v) failed: %v", test.level, err)
		}
		if string(b) != test.json {
			t.Errorf("json.Marshal(%v) = %s, want %s", test.level, b, test.json)
		}
		var got Level
		if err := json.Unmarshal(b, &got); err != nil || got != test.level {
			t.Errorf("json.Unmarshal(%s) = %v, %v, want %v", b, got, err, test.level)
		}
	}
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("json.Marshal(Level(7)) succeeded")
	}
}

func TestLevelFromInt(t *testing.T) {
	for _, test := range []struct {
		in   string
		want Level
		ok   bool
	}{
		{"0", Warning, true},
		{"1", Info, true},
		{"2", Debug, true},
		{"3", 0, false},
		{"-1", 0, false},
		{`"verbose"`, 0, false},
	} {
		var got Level
		err := got.UnmarshalJSON([]byte(test.in))
		if (err == nil) != test.ok || got != test.want {
			t.Errorf("UnmarshalJSON(%s) = %v, %v, want %v, ok %t", test.in, got, err, test.want, test.ok)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{Writer: &Writer{Next: tw}, Fields: map[string]string{"command": "scan"}}
	ts := time.Unix(1700000000, 0).UTC()
	e.Emit(0, Info, ts, "scanned %d inodes", 32)
	if len(tw.lines) == 0 {
		t.Fatalf("JSONEmitter wrote nothing")
	}

	var got jsonRecord
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", tw.lines[0], err)
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("Caller = %q, want json_test.go", got.Caller)
	}
	want := jsonRecord{
		Msg:    "scanned 32 inodes",
		Level:  Info,
		Time:   ts,
		Caller: got.Caller,
		Fields: map[string]string{"command": "scan"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}
