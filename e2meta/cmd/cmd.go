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

// Package cmd holds implementations of the e2meta commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/e2meta/e2meta/e2meta/config"
	"github.com/e2meta/e2meta/pkg/blockio"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/e2meta/e2meta/pkg/log"
	"gopkg.in/yaml.v3"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller that invoked e2meta.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs to stderr and the error logger and exits with status 128.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(ErrorLogger, "e2meta: %s\n", msg)
	os.Exit(128)
}

// openImage opens the filesystem image at path as configured by conf. The
// caller must close the returned filesystem.
func openImage(conf *config.Config, path string) (*ext2.Filesystem, error) {
	ch, err := blockio.OpenFile(path, conf.ReadWrite)
	if err != nil {
		return nil, err
	}
	fs, err := ext2.Open(ch, conf.OpenOptions())
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	return fs, nil
}

// closeImage closes fs, logging instead of failing for read-only handles.
func closeImage(fs *ext2.Filesystem) error {
	if err := fs.Close(); err != nil {
		if fs.Flags()&ext2.FlagRW == 0 {
			log.Warningf("error closing image: %v", err)
			return nil
		}
		return err
	}
	return nil
}

// writeYAML encodes v as a YAML document to w.
func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("error encoding output: %v", err)
	}
	return enc.Close()
}
