package checkdef

import (
	"fmt"
	"os"
	"time"

	"github.com/checksift/sift/internal/envset"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the conventional check-definition file name.
const DefaultPath = ".sift.yml"

// DefaultTimeout bounds a single check when no timeout is declared.
const DefaultTimeout = 5 * time.Minute

// Output formats a check may declare. "auto" tries rule-code, severity-word
// and JSON shapes per line; "passthrough" records every line verbatim.
const (
	FormatAuto        = "auto"
	FormatPassthrough = "passthrough"
)

// Duration decodes YAML duration strings like "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Check declares one tool invocation.
type Check struct {
	Name    string       `yaml:"name"`
	Command string       `yaml:"command"`
	Args    []string     `yaml:"args"`
	Dir     string       `yaml:"dir"`
	Format  string       `yaml:"format"`
	Timeout Duration     `yaml:"timeout"`
	Env     []envset.Var `yaml:"env"`
}

// File is the parsed check-definition file.
type File struct {
	Project string       `yaml:"project"`
	Env     []envset.Var `yaml:"env"` // shared across all checks
	Checks  []Check      `yaml:"checks"`
}

// Load reads and validates a check-definition file.
func Load(path string) (*File, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkdef: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates raw YAML check definitions.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("checkdef: parse: %w", err)
	}

	if f.Project == "" {
		f.Project = "default"
	}

	seen := make(map[string]bool, len(f.Checks))
	for i := range f.Checks {
		c := &f.Checks[i]
		if c.Name == "" {
			return nil, fmt.Errorf("checkdef: check %d has no name", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("checkdef: duplicate check name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Command == "" {
			return nil, fmt.Errorf("checkdef: check %q has no command", c.Name)
		}
		switch c.Format {
		case "":
			c.Format = FormatAuto
		case FormatAuto, FormatPassthrough:
		default:
			return nil, fmt.Errorf("checkdef: check %q has unknown format %q", c.Name, c.Format)
		}
		if c.Timeout <= 0 {
			c.Timeout = Duration(DefaultTimeout)
		}
	}

	return &f, nil
}

// EnvFor returns the merged variable declarations for one check:
// file-level variables first, then the check's own.
func (f *File) EnvFor(c Check) []envset.Var {
	if len(f.Env) == 0 {
		return c.Env
	}
	merged := make([]envset.Var, 0, len(f.Env)+len(c.Env))
	merged = append(merged, f.Env...)
	merged = append(merged, c.Env...)
	return merged
}
