package ingest

import (
	"sync"

	"github.com/checksift/sift/internal/diag"
	"github.com/checksift/sift/internal/model"
)

// PassthroughProcessor skips diagnostic parsing entirely and wraps every
// input line in a fallback finding. Useful when the upstream tool output
// has no structure worth recovering.
type PassthroughProcessor struct {
	mu         sync.RWMutex
	sink       RecordSink
	sourceName string
	project    string
}

// NewPassthroughProcessor creates a passthrough processor feeding sink.
func NewPassthroughProcessor(sink RecordSink, sourceName string) *PassthroughProcessor {
	return &PassthroughProcessor{
		sink:       sink,
		sourceName: sourceName,
		project:    model.DefaultProject,
	}
}

func (p *PassthroughProcessor) Name() string { return ProcessorModePassthrough }

// ProcessLine wraps an untagged line, attributing it to the processor's
// default source.
func (p *PassthroughProcessor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// ProcessEnvelope turns one source-tagged line into a fallback finding.
func (p *PassthroughProcessor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	if env.Line == "" {
		return nil
	}

	source, project := p.defaults()
	if env.Source != "" {
		source = env.Source
	}

	finding := diag.Fallback(env.Line)
	finding.Check = env.Check
	finding.RunID = env.RunID
	finding.Source = source
	finding.Project = project

	if p.sink != nil {
		p.sink.Add(finding)
	}
	return &ProcessResult{Finding: finding}
}

// SetProject updates the project assigned to ingested findings. An empty
// name keeps the current project.
func (p *PassthroughProcessor) SetProject(project string) {
	if project == "" {
		return
	}
	p.mu.Lock()
	p.project = project
	p.mu.Unlock()
}

// SetSourceName updates the default source name for untagged lines.
func (p *PassthroughProcessor) SetSourceName(name string) {
	p.mu.Lock()
	p.sourceName = name
	p.mu.Unlock()
}

func (p *PassthroughProcessor) defaults() (source, project string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sourceName, p.project
}
