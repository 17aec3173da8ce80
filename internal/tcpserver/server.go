// Package tcpserver accepts newline-delimited diagnostic lines over
// TCP. CI jobs and remote lint wrappers forward their output here.
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/checksift/sift/internal/model"
)

const (
	// DefaultLineChannelSize bounds how many lines may queue between the
	// network readers and the ingest pipeline.
	DefaultLineChannelSize = 100_000

	// DefaultMaxLineSize is the largest single line accepted, in bytes.
	DefaultMaxLineSize = 1024 * 1024
)

// ServerConfig holds tunable parameters for the TCP listener.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
}

// Server owns the listener and one reader goroutine per connection.
// Received lines are published on the channel returned by Lines.
type Server struct {
	addr     string
	lineChan chan model.IngestEnvelope
	maxLine  int

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer prepares a server bound to addr. An empty addr means
// "127.0.0.1:4000". Zero-valued config fields take the defaults.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "127.0.0.1:4000"
	}
	s := &Server{
		addr:     addr,
		lineChan: make(chan model.IngestEnvelope, DefaultLineChannelSize),
		maxLine:  DefaultMaxLineSize,
	}
	if len(conf) > 0 {
		if n := conf[0].LineChannelSize; n > 0 {
			s.lineChan = make(chan model.IngestEnvelope, n)
		}
		if n := conf[0].MaxLineSize; n > 0 {
			s.maxLine = n
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			log.Printf("tcpserver: accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn forwards non-empty lines until the peer disconnects or the
// server shuts down. A line over maxLine drops the whole connection;
// resynchronizing mid-line would corrupt the stream.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), s.maxLine)

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		select {
		case s.lineChan <- model.IngestEnvelope{Source: "tcp", Line: line}:
		case <-s.ctx.Done():
			return
		}
	}

	switch err := sc.Err(); {
	case err == nil:
	case errors.Is(err, bufio.ErrTooLong):
		log.Printf("tcpserver: closing %s, line exceeds %d bytes", conn.RemoteAddr(), s.maxLine)
	default:
		log.Printf("tcpserver: read from %s: %v", conn.RemoteAddr(), err)
	}
}

// Stop closes the listener, waits for connection readers to finish,
// and closes the line channel so downstream consumers drain and exit.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	close(s.lineChan)
	return nil
}

// Lines returns the channel of received diagnostic lines.
func (s *Server) Lines() <-chan model.IngestEnvelope {
	return s.lineChan
}

// Addr reports the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
