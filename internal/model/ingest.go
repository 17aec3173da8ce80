package model

// IngestEnvelope carries one raw diagnostic line with source metadata.
// It is the transport contract between input plugins and processing.
type IngestEnvelope struct {
	Source string
	Check  string // tool name when known at capture time (runner-tagged)
	RunID  string
	Line   string
}
