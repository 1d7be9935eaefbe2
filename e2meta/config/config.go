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

// Package config holds the e2meta configuration shared by all commands.
//
// Every setting can be given on the command line or in a TOML file passed
// with --config. Flags given explicitly on the command line take precedence
// over the file.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/e2meta/e2meta/pkg/log"
)

// Config holds configuration that is not part of a single command.
//
// Fields tagged with flag are populated by NewFromFlags. Fields tagged with
// toml may also be set from the configuration file.
type Config struct {
	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFilename is the file logs are appended to. Empty means stderr.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// ReadWrite opens images for writing.
	ReadWrite bool `flag:"rw" toml:"read_write"`

	// SuperBlock is a backup superblock to open images from, in units of
	// BlockSize.
	SuperBlock uint64 `flag:"superblock" toml:"superblock"`
	BlockSize  int    `flag:"block-size" toml:"block_size"`

	// IgnoreChecksumErrors opens images whose descriptors fail checksum
	// verification.
	IgnoreChecksumErrors bool `flag:"ignore-csum-errors" toml:"ignore_csum_errors"`

	// BufferBlocks is the number of inode table blocks read at once by
	// scans. Zero picks the default.
	BufferBlocks int `flag:"buffer-blocks" toml:"buffer_blocks"`

	// SkipMissingTable makes scans skip groups without an inode table
	// instead of failing.
	SkipMissingTable bool `flag:"skip-missing-itable" toml:"skip_missing_itable"`

	// Lazy makes scans skip groups whose inode table is uninitialized.
	Lazy bool `flag:"lazy" toml:"lazy"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML configuration file.")

	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")

	flagSet.Bool("rw", false, "open images read-write.")
	flagSet.Uint64("superblock", 0, "open from the backup superblock at this block, requires --block-size.")
	flagSet.Int("block-size", 0, "block size of the backup superblock.")
	flagSet.Bool("ignore-csum-errors", false, "open images with bad group descriptor checksums.")

	flagSet.Int("buffer-blocks", 0, "number of inode table blocks read at once by scans, 0 picks the default.")
	flagSet.Bool("skip-missing-itable", false, "skip groups without an inode table instead of failing.")
	flagSet.Bool("lazy", false, "skip groups whose inode table is not initialized.")
}

// NewFromFlags creates a new Config with values coming from the flags in
// flagSet and, if --config is set, from the configuration file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	if err := conf.setFlags(flagSet, func(fn func(*flag.Flag)) { flagSet.VisitAll(fn) }); err != nil {
		return nil, err
	}

	if path := flagSet.Lookup("config").Value.String(); path != "" {
		md, err := toml.DecodeFile(path, conf)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %q: %v", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in config file %q: %v", path, undecoded)
		}
		// Explicit flags win over the file.
		if err := conf.setFlags(flagSet, func(fn func(*flag.Flag)) { flagSet.Visit(fn) }); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFlags copies the value of every flag reported by visit into the
// matching field.
func (c *Config) setFlags(flagSet *flag.FlagSet, visit func(func(*flag.Flag))) error {
	fields := make(map[string]int)
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		if flagSet.Lookup(name) == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		fields[name] = i
	}

	var err error
	visit(func(fl *flag.Flag) {
		i, ok := fields[fl.Name]
		if !ok || err != nil {
			return
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			err = fmt.Errorf("flag %q does not implement flag.Getter", fl.Name)
			return
		}
		obj.Field(i).Set(reflect.ValueOf(getter.Get()))
	})
	return err
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be text or json", c.LogFormat)
	}
	if c.BufferBlocks < 0 {
		return fmt.Errorf("buffer-blocks must not be negative: %d", c.BufferBlocks)
	}
	if c.SuperBlock != 0 && c.BlockSize == 0 {
		return fmt.Errorf("superblock %d requires block-size", c.SuperBlock)
	}
	return nil
}

// OpenOptions returns the options used to open images.
func (c *Config) OpenOptions() ext2.OpenOptions {
	return ext2.OpenOptions{
		ReadWrite:            c.ReadWrite,
		SuperBlock:           c.SuperBlock,
		BlockSize:            c.BlockSize,
		IgnoreChecksumErrors: c.IgnoreChecksumErrors,
	}
}

// ScanFlags returns the inode scan flags selected by the configuration.
func (c *Config) ScanFlags() ext2.ScanFlags {
	var f ext2.ScanFlags
	if c.SkipMissingTable {
		f |= ext2.ScanSkipMissingTable
	}
	if c.Lazy {
		f |= ext2.ScanDoLazy
	}
	return f
}

// Log logs every configuration value.
func (c *Config) Log() {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	var b strings.Builder
	for i := 0; i < st.NumField(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", st.Field(i).Name, obj.Field(i).Interface())
	}
	log.Infof("Config: %s", b.String())
}
