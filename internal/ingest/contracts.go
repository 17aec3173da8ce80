package ingest

import "github.com/checksift/sift/internal/model"

const (
	// ProcessorModeParse is the full diagnostic-parsing processor.
	ProcessorModeParse = "parse"
	// ProcessorModePassthrough skips parsing and stores raw lines.
	ProcessorModePassthrough = "passthrough"
)

// RecordSink receives processed findings for storage.
type RecordSink interface {
	Add(finding *model.Finding)
}

// EnvelopeProcessor consumes source-tagged ingest lines and emits canonical findings.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
	SetProject(project string)
}

// NewEnvelopeProcessor creates the processor for the given mode.
// Unknown modes fall back to the parsing processor.
func NewEnvelopeProcessor(mode string, sink RecordSink, sourceName string) EnvelopeProcessor {
	if mode == ProcessorModePassthrough {
		return NewPassthroughProcessor(sink, sourceName)
	}
	return NewProcessor(sink, sourceName)
}
