package ingest

import (
	"strings"

	"github.com/checksift/sift/internal/diag"
	"github.com/checksift/sift/internal/model"
)

// Processor parses diagnostic lines into findings and routes them to storage.
type Processor struct {
	sink       RecordSink
	sourceName string
	project    string

	// JSON accumulation for multi-line JSON support
	jsonBuffer   strings.Builder
	jsonDepth    int
	inJSONObject bool

	// Envelope metadata captured when accumulation starts, applied to the
	// completed object.
	pendingEnv model.IngestEnvelope

	// Result from processCompleteJSON, consumed by ProcessEnvelope
	lastResult *ProcessResult
}

// NewProcessor creates a new diagnostic processor.
func NewProcessor(sink RecordSink, sourceName string) *Processor {
	return &Processor{
		sink:       sink,
		sourceName: sourceName,
		project:    model.DefaultProject,
	}
}

func (p *Processor) Name() string { return ProcessorModeParse }

// ProcessResult holds the result of processing a diagnostic line.
type ProcessResult struct {
	Finding *model.Finding
}

// ProcessLine processes an untagged line using the processor source name.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{
		Source: p.sourceName,
		Line:   line,
	})
}

// ProcessEnvelope processes one source-tagged line, returning the parsed finding.
// Returns nil while a multi-line JSON object is being accumulated.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	if env.Line == "" && !p.inJSONObject {
		return nil
	}

	if p.tryAccumulateJSON(env) {
		// If accumulation completed a JSON object, return its result
		if p.lastResult != nil {
			result := p.lastResult
			p.lastResult = nil
			return result
		}
		return nil
	}

	return p.processEntry(env)
}

// processEntry parses a line, fills derived fields, and stores the finding.
func (p *Processor) processEntry(env model.IngestEnvelope) *ProcessResult {
	finding := diag.ParseLine(env.Line)
	if finding == nil {
		finding = diag.Fallback(env.Line)
	}

	if env.Check != "" {
		finding.Check = env.Check
	}
	finding.RunID = env.RunID
	finding.Source = env.Source
	if finding.Source == "" {
		finding.Source = p.sourceName
	}
	if finding.Project == "" {
		finding.Project = p.project
	}

	if p.sink != nil {
		p.sink.Add(finding)
	}

	return &ProcessResult{Finding: finding}
}

// tryAccumulateJSON attempts to accumulate multi-line JSON and process when complete.
// Returns true if the line was consumed (either accumulated or completed).
func (p *Processor) tryAccumulateJSON(env model.IngestEnvelope) bool {
	line := env.Line
	trimmed := strings.TrimSpace(line)

	if !p.inJSONObject {
		if !strings.HasPrefix(trimmed, "{") {
			return false
		}
		p.inJSONObject = true
		p.jsonBuffer.Reset()
		p.jsonDepth = 0
		p.pendingEnv = env
		p.jsonBuffer.WriteString(line)
		p.jsonBuffer.WriteString("\n")

		p.jsonDepth += CountJSONDepth(line)

		if p.jsonDepth <= 0 {
			p.finishJSONAccumulation()
		}
		return true
	}

	p.jsonBuffer.WriteString(line)
	p.jsonBuffer.WriteString("\n")
	p.jsonDepth += CountJSONDepth(line)

	if p.jsonDepth <= 0 {
		p.finishJSONAccumulation()
	}
	return true
}

// finishJSONAccumulation processes the accumulated JSON object through the
// regular entry path, with the envelope metadata of the opening line.
func (p *Processor) finishJSONAccumulation() {
	completeJSON := strings.TrimSpace(p.jsonBuffer.String())
	env := p.pendingEnv
	env.Line = completeJSON
	p.resetJSONAccumulation()
	p.lastResult = p.processEntry(env)
}

// resetJSONAccumulation resets the JSON accumulation state.
func (p *Processor) resetJSONAccumulation() {
	p.inJSONObject = false
	p.jsonDepth = 0
	p.jsonBuffer.Reset()
	p.pendingEnv = model.IngestEnvelope{}
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

// SetSourceName updates the source name used for findings.
func (p *Processor) SetSourceName(name string) {
	p.sourceName = name
}

// SetProject updates the project applied to findings that carry none.
func (p *Processor) SetProject(project string) {
	if project != "" {
		p.project = project
	}
}
