package checkdef

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
project: shopping-app
env:
  - name: DATABASE_URL
    default: sqlite:///./dev.db
checks:
  - name: flake8
    command: flake8
    args: ["src"]
    dir: backend
    timeout: 2m
    env:
      - name: JWT_SECRET
        aliases: [JWT_SECRET_KEY]
        required: true
        secret: true
  - name: eslint
    command: npx
    args: ["eslint", ".", "--format", "unix"]
    dir: frontend
    format: passthrough
`

func TestParse_Valid(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Project != "shopping-app" {
		t.Errorf("Project = %q", f.Project)
	}
	if len(f.Checks) != 2 {
		t.Fatalf("len(Checks) = %d, want 2", len(f.Checks))
	}

	flake8 := f.Checks[0]
	if flake8.Timeout.Std() != 2*time.Minute {
		t.Errorf("flake8 timeout = %v, want 2m", flake8.Timeout.Std())
	}
	if flake8.Format != FormatAuto {
		t.Errorf("flake8 format = %q, want auto default", flake8.Format)
	}

	eslint := f.Checks[1]
	if eslint.Format != FormatPassthrough {
		t.Errorf("eslint format = %q", eslint.Format)
	}
	if eslint.Timeout.Std() != DefaultTimeout {
		t.Errorf("eslint timeout = %v, want default", eslint.Timeout.Std())
	}
}

func TestParse_MergedEnv(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	vars := f.EnvFor(f.Checks[0])
	if len(vars) != 2 {
		t.Fatalf("len(vars) = %d, want 2 (file-level + check-level)", len(vars))
	}
	if vars[0].Name != "DATABASE_URL" || vars[1].Name != "JWT_SECRET" {
		t.Errorf("merged order = %s, %s", vars[0].Name, vars[1].Name)
	}
	if len(vars[1].Aliases) != 1 || vars[1].Aliases[0] != "JWT_SECRET_KEY" {
		t.Errorf("aliases = %v", vars[1].Aliases)
	}
}

func TestParse_DefaultProject(t *testing.T) {
	t.Parallel()

	f, err := Parse([]byte("checks:\n  - name: a\n    command: true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Project != "default" {
		t.Errorf("Project = %q, want default", f.Project)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "checks:\n  - command: x\n", "has no name"},
		{"missing command", "checks:\n  - name: a\n", "has no command"},
		{"duplicate name", "checks:\n  - name: a\n    command: x\n  - name: a\n    command: y\n", "duplicate"},
		{"bad format", "checks:\n  - name: a\n    command: x\n    format: xml\n", "unknown format"},
		{"bad yaml", "checks: [", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}
