package findingsource

import "github.com/checksift/sift/internal/model"

// Source is a unified interface for all diagnostic input sources (TCP, stdin).
type Source interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of diagnostic lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin"
}
