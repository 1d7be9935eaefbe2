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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/google/go-cmp/cmp"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return testFlags
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "e2meta.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config failed: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFormat: "text"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ext2.OpenOptions{}, c.OpenOptions()); diff != "" {
		t.Errorf("OpenOptions() mismatch (-want +got):\n%s", diff)
	}
	if got := c.ScanFlags(); got != 0 {
		t.Errorf("ScanFlags() = %#x, want 0", got)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t,
		"--debug",
		"--log-format=json",
		"--rw",
		"--superblock=8193",
		"--block-size=1024",
		"--buffer-blocks=16",
		"--skip-missing-itable",
		"--lazy",
	))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Debug:            true,
		LogFormat:        "json",
		ReadWrite:        true,
		SuperBlock:       8193,
		BlockSize:        1024,
		BufferBlocks:     16,
		SkipMissingTable: true,
		Lazy:             true,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	wantOpts := ext2.OpenOptions{ReadWrite: true, SuperBlock: 8193, BlockSize: 1024}
	if diff := cmp.Diff(wantOpts, c.OpenOptions()); diff != "" {
		t.Errorf("OpenOptions() mismatch (-want +got):\n%s", diff)
	}
	if got, want := c.ScanFlags(), ext2.ScanSkipMissingTable|ext2.ScanDoLazy; got != want {
		t.Errorf("ScanFlags() = %#x, want %#x", got, want)
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, `
debug = true
log_format = "json"
buffer_blocks = 4
skip_missing_itable = true
`)
	for _, test := range []struct {
		name string
		args []string
		want *Config
	}{
		{
			name: "file only",
			args: []string{"--config=" + path},
			want: &Config{Debug: true, LogFormat: "json", BufferBlocks: 4, SkipMissingTable: true},
		},
		{
			name: "flags override file",
			args: []string{"--config=" + path, "--buffer-blocks=32", "--log-format=text", "--rw"},
			want: &Config{Debug: true, LogFormat: "text", ReadWrite: true, BufferBlocks: 32, SkipMissingTable: true},
		},
		{
			name: "flag set to its default still overrides",
			args: []string{"--config=" + path, "--debug=false"},
			want: &Config{LogFormat: "json", BufferBlocks: 4, SkipMissingTable: true},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, err := NewFromFlags(newFlagSet(t, test.args...))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, c); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidation(t *testing.T) {
	for _, test := range []struct {
		name string
		args []string
		err  string
	}{
		{
			name: "log format",
			args: []string{"--log-format=xml"},
			err:  "invalid log format",
		},
		{
			name: "negative buffer",
			args: []string{"--buffer-blocks=-1"},
			err:  "buffer-blocks",
		},
		{
			name: "superblock without block size",
			args: []string{"--superblock=8193"},
			err:  "requires block-size",
		},
		{
			name: "unknown key",
			args: []string{"--config=" + writeConfig(t, "no_such_key = 1\n")},
			err:  "unknown keys",
		},
		{
			name: "missing file",
			args: []string{"--config=" + filepath.Join(t.TempDir(), "missing.toml")},
			err:  "error reading config file",
		},
		{
			name: "bad file value",
			args: []string{"--config=" + writeConfig(t, "buffer_blocks = \"many\"\n")},
			err:  "error reading config file",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewFromFlags(newFlagSet(t, test.args...))
			if err == nil || !strings.Contains(err.Error(), test.err) {
				t.Errorf("NewFromFlags(%v) = %v, want error containing %q", test.args, err, test.err)
			}
		})
	}
}
