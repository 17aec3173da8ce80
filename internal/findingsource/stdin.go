package findingsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"

	"github.com/checksift/sift/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize caps a single stdin line at 1MB.
	DefaultStdinMaxLineSize = 1024 * 1024
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
	Reader      io.Reader // defaults to os.Stdin
}

func (c StdinConfig) withDefaults() StdinConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultStdinBuffer
	}
	if c.MaxLineSize <= 0 {
		c.MaxLineSize = DefaultStdinMaxLineSize
	}
	if c.Reader == nil {
		c.Reader = os.Stdin
	}
	return c
}

// StdinSource turns lines piped into the daemon into ingest envelopes.
type StdinSource struct {
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
}

// NewStdinSource starts reading from the configured reader immediately.
// Stop cancels delivery even while the underlying read is blocked.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	var cfg StdinConfig
	if len(conf) > 0 {
		cfg = conf[0]
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	s := &StdinSource{
		ch:     make(chan model.IngestEnvelope, cfg.BufferSize),
		cancel: cancel,
	}

	// Scan runs in its own goroutine because bufio blocks in Read; the
	// pump goroutine stays responsive to cancellation regardless.
	raw := make(chan string)
	go scanInto(ctx, cfg, raw)
	go s.pump(ctx, raw)
	return s
}

func scanInto(ctx context.Context, cfg StdinConfig, out chan<- string) {
	defer close(out)

	scanner := bufio.NewScanner(cfg.Reader)
	scanner.Buffer(make([]byte, 64*1024), cfg.MaxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}

	switch err := scanner.Err(); {
	case err == nil:
	case errors.Is(err, bufio.ErrTooLong):
		log.Printf("findingsource: stdin line exceeded max size (%d bytes), stopping stdin source", cfg.MaxLineSize)
	default:
		log.Printf("findingsource: stdin scanner error: %v", err)
	}
}

func (s *StdinSource) pump(ctx context.Context, raw <-chan string) {
	defer close(s.ch)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-raw:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.Name(), Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *StdinSource) Stop()                              { s.cancel() }
func (s *StdinSource) Name() string                       { return "stdin" }
