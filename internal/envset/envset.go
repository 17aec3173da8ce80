package envset

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Var declares one environment variable a check depends on.
// Aliases are legacy names still honored for compatibility; the canonical
// name always wins when both are set.
type Var struct {
	Name     string   `yaml:"name"`
	Default  string   `yaml:"default"`
	Required bool     `yaml:"required"`
	Secret   bool     `yaml:"secret"`
	Aliases  []string `yaml:"aliases"`
}

// Resolved holds a deterministic environment overlay for check subprocesses.
type Resolved struct {
	values   map[string]string
	secrets  map[string]bool
	warnings []string
}

// Resolve evaluates declared variables against a lookup function
// (typically os.LookupEnv). Precedence per variable: canonical name,
// then aliases in declared order, then the default. A required variable
// with no value anywhere is an error, reported before any check runs.
func Resolve(vars []Var, lookup func(string) (string, bool)) (*Resolved, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	r := &Resolved{
		values:  make(map[string]string, len(vars)),
		secrets: make(map[string]bool),
	}

	var missing []string
	for _, v := range vars {
		if v.Name == "" {
			return nil, fmt.Errorf("envset: variable with empty name")
		}
		if v.Secret {
			r.secrets[v.Name] = true
		}

		if val, ok := lookup(v.Name); ok {
			r.values[v.Name] = val
			continue
		}

		resolved := false
		for _, alias := range v.Aliases {
			if val, ok := lookup(alias); ok {
				r.values[v.Name] = val
				r.warnings = append(r.warnings,
					fmt.Sprintf("%s is deprecated, use %s", alias, v.Name))
				resolved = true
				break
			}
		}
		if resolved {
			continue
		}

		if v.Default != "" {
			r.values[v.Name] = v.Default
			continue
		}
		if v.Required {
			missing = append(missing, v.Name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("envset: required variables not set: %s", strings.Join(missing, ", "))
	}
	return r, nil
}

// Value returns the resolved value for a canonical name.
func (r *Resolved) Value(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Warnings returns one deprecation warning per alias that was used.
func (r *Resolved) Warnings() []string {
	return r.warnings
}

// Environ overlays the resolved values onto a base environment
// (typically os.Environ) and returns the merged KEY=VALUE list.
// Resolved values replace base entries with the same key.
func (r *Resolved) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(r.values))
	seen := make(map[string]bool, len(r.values))
	for _, kv := range base {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, ok := r.values[key]; ok {
			if !seen[key] {
				out = append(out, key+"="+r.values[key])
				seen[key] = true
			}
			continue
		}
		out = append(out, kv)
	}

	rest := make([]string, 0, len(r.values))
	for k := range r.values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, k+"="+r.values[k])
	}
	return out
}

// Describe returns resolved values for display, with secrets redacted.
func (r *Resolved) Describe() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		if r.secrets[k] {
			out[k] = Redact(v)
		} else {
			out[k] = v
		}
	}
	return out
}

// Redact masks a secret value, keeping a short prefix for recognition.
func Redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-2)
}
