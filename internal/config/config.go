// Package config loads the liveq YAML configuration: database location,
// listen address, wire codec, session tuning and the table catalog.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	DefaultDatabase         = "./liveq.db"
	DefaultListen           = "127.0.0.1:7420"
	DefaultCodec            = "json"
	DefaultImmediateTimeout = time.Second
	DefaultNextBuffer       = 16
)

// Config is the root configuration document.
type Config struct {
	Database string  `yaml:"database"`
	Listen   string  `yaml:"listen"`
	Codec    string  `yaml:"codec"`
	Session  Session `yaml:"session"`
	Tables   Catalog `yaml:"tables"`
}

// Session tunes the subscription session manager.
type Session struct {
	// ProbeWindow bounds how long start-query waits for completion before
	// choosing the streaming path. Zero is a pure non-blocking probe.
	ProbeWindow time.Duration `yaml:"probe_window"`
	// ImmediateTimeout bounds the receive of the single payload of an
	// already-completed subscription.
	ImmediateTimeout time.Duration `yaml:"immediate_timeout"`
	// NextBuffer is the capacity of each subscription's next channel.
	NextBuffer int `yaml:"next_buffer"`
}

// ColumnType is the declared type of a catalog column.
type ColumnType string

const (
	ColumnString ColumnType = "string"
	ColumnInt    ColumnType = "int"
	ColumnBool   ColumnType = "bool"
)

// Valid reports whether t is a supported column type. Floats are not.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnString, ColumnInt, ColumnBool:
		return true
	}
	return false
}

// Table declares one queryable table. Every table also has an implicit
// integer primary key column "id".
type Table struct {
	Columns map[string]ColumnType `yaml:"columns"`
}

// ColumnNames returns the declared columns sorted by name, without "id".
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Column returns the type of a column, including the implicit "id".
func (t Table) Column(name string) (ColumnType, bool) {
	if name == "id" {
		return ColumnInt, true
	}
	ct, ok := t.Columns[name]
	return ct, ok
}

// Catalog maps table names to their declarations.
type Catalog map[string]Table

// Names returns table names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Default returns a Config with every default applied and no tables.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields. ProbeWindow defaults to zero.
func (c *Config) ApplyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	c.Codec = strings.ToLower(c.Codec)
	if c.Session.ImmediateTimeout == 0 {
		c.Session.ImmediateTimeout = DefaultImmediateTimeout
	}
	if c.Session.NextBuffer == 0 {
		c.Session.NextBuffer = DefaultNextBuffer
	}
	if c.Tables == nil {
		c.Tables = Catalog{}
	}
}

// Load reads, defaults and validates the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := DecodeStrict(f, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, &InvalidError{Path: path, Errs: errs}
	}
	return &cfg, nil
}

// InvalidError aggregates every validation failure of one config file.
type InvalidError struct {
	Path string
	Errs []error
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config %s: %s", e.Path, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual validation errors to errors.As.
func (e *InvalidError) Unwrap() []error {
	return e.Errs
}
