package common

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Duration wraps time.Duration so it can be parsed from and rendered as a
// human string ("30s", "1h30m") in YAML, JSON, and TOML config files.
type Duration struct {
	time.Duration
}

// NewDuration wraps a time.Duration value.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// JSONSchema describes Duration for generated config documentation.
func (d Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units understood by time.ParseDuration, e.g. 300ms, 1m, 1h30m45s",
		Examples:    []any{"300ms", "1m", "1h30m45s"},
	}
}
