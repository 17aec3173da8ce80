package main

import (
	"context"
	"sync"

	"github.com/checksift/sift/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// SourceMultiplexer merges the line streams of every input source into
// one channel. The output closes when all sources have closed or after
// Stop, so the ingest loop can range over it.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources []NamedFindingSource
	lines   chan model.IngestEnvelope

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []NamedFindingSource, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	m := &SourceMultiplexer{
		sources: sources,
		lines:   make(chan model.IngestEnvelope, buffer),
	}
	m.ctx, m.cancel = context.WithCancel(parent)
	return m
}

// Start launches one forwarder per source plus a closer that shuts the
// output once every forwarder has drained.
func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		for _, src := range m.sources {
			src := src
			m.wg.Add(1)
			go m.forward(src)
		}
		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

// Stop cancels forwarding, stops every source, and closes the output.
func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope {
	return m.lines
}

func (m *SourceMultiplexer) forward(src NamedFindingSource) {
	defer m.wg.Done()

	in := src.Lines()
	for {
		var env model.IngestEnvelope
		var ok bool
		select {
		case env, ok = <-in:
		case <-m.ctx.Done():
			return
		}
		if !ok {
			return
		}
		if env.Line == "" {
			continue
		}
		if !m.publish(env) {
			return
		}
	}
}

func (m *SourceMultiplexer) publish(env model.IngestEnvelope) bool {
	select {
	case m.lines <- env:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.lines)
	})
}
