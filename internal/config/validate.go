package config

import (
	"fmt"
	"net"
	"regexp"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be used unquoted as a SQL table or
// column name.
func ValidIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "tables.stores.columns.rank"
	Message string // e.g., "unsupported column type"
	Hint    string // e.g., "expected string, int or bool"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks the whole config and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.Tables.Validate()...)
	return errs
}

func (c *Config) validateServer() []error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, ValidationError{Path: "database", Message: "must not be empty"})
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, ValidationError{
			Path:    "listen",
			Message: fmt.Sprintf("invalid address %q", c.Listen),
			Hint:    "expected host:port",
		})
	}
	switch c.Codec {
	case "json", "cbor":
	default:
		errs = append(errs, ValidationError{
			Path:    "codec",
			Message: fmt.Sprintf("unsupported codec %q", c.Codec),
			Hint:    "expected json or cbor",
		})
	}
	return errs
}

func (c *Config) validateSession() []error {
	var errs []error
	s := c.Session
	if s.ProbeWindow < 0 {
		errs = append(errs, ValidationError{Path: "session.probe_window", Message: "must not be negative"})
	}
	if s.ImmediateTimeout <= 0 {
		errs = append(errs, ValidationError{Path: "session.immediate_timeout", Message: "must be positive"})
	}
	if s.NextBuffer < 1 {
		errs = append(errs, ValidationError{
			Path:    "session.next_buffer",
			Message: "must be at least 1",
			Hint:    "one-shot producers deliver their result before signalling completion",
		})
	}
	return errs
}

// Validate checks table and column names and column types.
func (c Catalog) Validate() []error {
	var errs []error
	if len(c) == 0 {
		errs = append(errs, ValidationError{
			Path:    "tables",
			Message: "must declare at least one table",
		})
	}
	for _, name := range c.Names() {
		path := "tables." + name
		if !ValidIdentifier(name) {
			errs = append(errs, ValidationError{Path: path, Message: "invalid table name", Hint: "use letters, digits and underscores"})
			continue
		}
		if name == "changes" {
			errs = append(errs, ValidationError{Path: path, Message: "table name is reserved"})
		}
		table := c[name]
		for _, col := range table.ColumnNames() {
			colPath := path + ".columns." + col
			switch {
			case !ValidIdentifier(col):
				errs = append(errs, ValidationError{Path: colPath, Message: "invalid column name", Hint: "use letters, digits and underscores"})
			case col == "id":
				errs = append(errs, ValidationError{Path: colPath, Message: "column id is implicit and cannot be declared"})
			case !table.Columns[col].Valid():
				errs = append(errs, ValidationError{
					Path:    colPath,
					Message: fmt.Sprintf("unsupported column type %q", table.Columns[col]),
					Hint:    "expected string, int or bool",
				})
			}
		}
	}
	return errs
}
