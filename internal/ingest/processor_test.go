package ingest

import (
	"testing"

	"github.com/checksift/sift/internal/model"
)

type captureSink struct {
	findings []*model.Finding
}

func (c *captureSink) Add(f *model.Finding) {
	c.findings = append(c.findings, f)
}

func TestProcessor_RuleCodeLine(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	p := NewProcessor(sink, "runner")

	result := p.ProcessEnvelope(model.IngestEnvelope{
		Source: "runner",
		Check:  "flake8",
		RunID:  "run-1",
		Line:   "app/main.py:12:80: E501 line too long (92 > 79 characters)",
	})
	if result == nil || result.Finding == nil {
		t.Fatal("expected a finding")
	}

	f := result.Finding
	if f.Rule != "E501" {
		t.Errorf("Rule = %q, want E501", f.Rule)
	}
	if f.Severity != "ERROR" {
		t.Errorf("Severity = %q, want ERROR", f.Severity)
	}
	if f.Check != "flake8" {
		t.Errorf("Check = %q, want flake8", f.Check)
	}
	if f.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", f.RunID)
	}
	if f.Source != "runner" {
		t.Errorf("Source = %q, want runner", f.Source)
	}
	if f.Project != model.DefaultProject {
		t.Errorf("Project = %q, want %q", f.Project, model.DefaultProject)
	}
	if len(sink.findings) != 1 {
		t.Errorf("sink received %d findings, want 1", len(sink.findings))
	}
}

func TestProcessor_FallbackLine(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	p := NewProcessor(sink, "stdin")

	result := p.ProcessLine("some free-form tool output")
	if result == nil || result.Finding == nil {
		t.Fatal("expected a fallback finding")
	}
	if result.Finding.Severity != "INFO" {
		t.Errorf("fallback Severity = %q, want INFO", result.Finding.Severity)
	}
	if result.Finding.Source != "stdin" {
		t.Errorf("Source = %q, want stdin", result.Finding.Source)
	}
}

func TestProcessor_SingleLineJSON(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	p := NewProcessor(sink, "tcp")

	result := p.ProcessLine(`{"file":"src/cart.js","line":7,"col":5,"severity":"warning","rule":"no-unused-vars","message":"'total' is defined but never used"}`)
	if result == nil || result.Finding == nil {
		t.Fatal("expected a finding from JSON line")
	}
	f := result.Finding
	if f.Rule != "no-unused-vars" {
		t.Errorf("Rule = %q, want no-unused-vars", f.Rule)
	}
	if f.Severity != "WARN" {
		t.Errorf("Severity = %q, want WARN", f.Severity)
	}
	if f.File != "src/cart.js" || f.Line != 7 || f.Col != 5 {
		t.Errorf("position = %s:%d:%d, want src/cart.js:7:5", f.File, f.Line, f.Col)
	}
}

func TestProcessor_MultiLineJSON(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	p := NewProcessor(sink, "tcp")

	lines := []string{
		`{`,
		`  "file": "app/models.py",`,
		`  "line": 3,`,
		`  "severity": "error",`,
		`  "message": "'os' imported but unused"`,
		`}`,
	}

	var result *ProcessResult
	for i, line := range lines {
		result = p.ProcessEnvelope(model.IngestEnvelope{Source: "tcp", Check: "flake8", Line: line})
		if i < len(lines)-1 && result != nil {
			t.Fatalf("line %d: expected nil result while accumulating, got %+v", i, result)
		}
	}

	if result == nil || result.Finding == nil {
		t.Fatal("expected a finding after closing brace")
	}
	f := result.Finding
	if f.File != "app/models.py" || f.Line != 3 {
		t.Errorf("position = %s:%d, want app/models.py:3", f.File, f.Line)
	}
	if f.Severity != "ERROR" {
		t.Errorf("Severity = %q, want ERROR", f.Severity)
	}
	// Envelope metadata from the opening line is applied to the whole object.
	if f.Check != "flake8" {
		t.Errorf("Check = %q, want flake8", f.Check)
	}
	if len(sink.findings) != 1 {
		t.Errorf("sink received %d findings, want 1", len(sink.findings))
	}
}

func TestCountJSONDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want int
	}{
		{`{`, 1},
		{`}`, -1},
		{`{"a": 1}`, 0},
		{`{"a": {"b": [`, 3},
		{`"text with { brace"`, 0},
		{`"escaped \" quote {"`, 0},
	}

	for _, tt := range tests {
		if got := CountJSONDepth(tt.line); got != tt.want {
			t.Errorf("CountJSONDepth(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestPassthroughProcessor_StoresRawLines(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	p := NewPassthroughProcessor(sink, "stdin")

	if p.Name() != ProcessorModePassthrough {
		t.Fatalf("processor name = %q, want %q", p.Name(), ProcessorModePassthrough)
	}

	result := p.ProcessLine("app/main.py:12:80: E501 line too long")
	if result == nil || result.Finding == nil {
		t.Fatal("expected a finding")
	}
	// Passthrough never parses; everything is an INFO finding.
	if result.Finding.Severity != "INFO" {
		t.Errorf("Severity = %q, want INFO", result.Finding.Severity)
	}
	if result.Finding.Rule != "" {
		t.Errorf("Rule = %q, want empty", result.Finding.Rule)
	}
}

func TestNewEnvelopeProcessor_Modes(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	if p := NewEnvelopeProcessor(ProcessorModeParse, sink, "stdin"); p.Name() != ProcessorModeParse {
		t.Errorf("parse mode name = %q, want %q", p.Name(), ProcessorModeParse)
	}
	if p := NewEnvelopeProcessor(ProcessorModePassthrough, sink, "stdin"); p.Name() != ProcessorModePassthrough {
		t.Errorf("passthrough mode name = %q, want %q", p.Name(), ProcessorModePassthrough)
	}
	if p := NewEnvelopeProcessor("bogus", sink, "stdin"); p.Name() != ProcessorModeParse {
		t.Errorf("unknown mode should fall back to parse, got %q", p.Name())
	}
}
