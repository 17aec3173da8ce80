package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/checksift/sift/internal/model"
)

const (
	// Per-connection read buffer sizing. Finding result sets can be
	// large, so both sides allow up to 10 MB per line.
	scannerInitBufSize  = 1024 * 1024
	scannerMaxTokenSize = 10 * 1024 * 1024
)

// Server answers model.FindingQuerier RPCs on a Unix domain socket.
type Server struct {
	socketPath string
	store      model.FindingQuerier
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
}

// NewServer creates a socket RPC server serving queries from store.
func NewServer(socketPath string, store model.FindingQuerier) *Server {
	return &Server{
		socketPath: socketPath,
		store:      store,
		quit:       make(chan struct{}),
	}
}

// Start claims the socket path and begins accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}
	if err := s.claimSocketPath(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("socketrpc: listening on %s", s.socketPath)
	return nil
}

// claimSocketPath removes a stale socket file left by a crashed
// process. A socket that still answers a dial belongs to a live server
// and is an error to take over.
func (s *Server) claimSocketPath() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
	if err != nil {
		os.Remove(s.socketPath)
		return nil
	}
	conn.Close()
	return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
}

// Stop closes the listener, waits for in-flight connections, and
// removes the socket file.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			// Transient errors (fd limit) must not kill the loop.
			log.Printf("socketrpc: accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn reads newline-delimited requests and writes one response
// per request, in order, until the client disconnects.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	enc := json.NewEncoder(conn)

	for sc.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			enc.Encode(Response{JSONRPC: "2.0", Error: &RPCError{Code: -32700, Message: "parse error"}})
			continue
		}
		if err := enc.Encode(s.dispatch(req)); err != nil {
			return
		}
	}
}

// dispatch routes one request to the store and wraps the outcome in a
// JSON-RPC response.
func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	result, rpcErr := s.invoke(req.Method, req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}

	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Code: -32603, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

func (s *Server) invoke(method string, raw json.RawMessage) (interface{}, *RPCError) {
	switch method {
	case "TotalFindingCount":
		var p optsParams
		if e := decodeParams(raw, &p, true); e != nil {
			return nil, e
		}
		return queryResult(s.store.TotalFindingCount(p.Opts))

	case "TotalRunCount":
		var p optsParams
		if e := decodeParams(raw, &p, true); e != nil {
			return nil, e
		}
		return queryResult(s.store.TotalRunCount(p.Opts))

	case "SeverityCounts":
		var p optsParams
		if e := decodeParams(raw, &p, true); e != nil {
			return nil, e
		}
		return queryResult(s.store.SeverityCounts(p.Opts))

	case "SeverityCountsByMinute":
		var p windowParams
		if e := decodeParams(raw, &p, false); e != nil {
			return nil, e
		}
		return queryResult(s.store.SeverityCountsByMinute(p.Window, p.Opts))

	case "TopRules":
		var p limitParams
		if e := decodeParams(raw, &p, false); e != nil {
			return nil, e
		}
		return queryResult(s.store.TopRules(p.Limit, p.Opts))

	case "TopFiles":
		var p limitParams
		if e := decodeParams(raw, &p, false); e != nil {
			return nil, e
		}
		return queryResult(s.store.TopFiles(p.Limit, p.Opts))

	case "TopChecks":
		var p limitParams
		if e := decodeParams(raw, &p, false); e != nil {
			return nil, e
		}
		return queryResult(s.store.TopChecks(p.Limit, p.Opts))

	case "TopAttributes":
		var p limitParams
		if e := decodeParams(raw, &p, false); e != nil {
			return nil, e
		}
		return queryResult(s.store.TopAttributes(p.Limit, p.Opts))

	case "ListProjects":
		return queryResult(s.store.ListProjects())

	case "RunHistory":
		var p limitParams
		if e := decodeParams(raw, &p, false); e != nil {
			return nil, e
		}
		return queryResult(s.store.RunHistory(p.Limit, p.Opts))

	case "RecentFindingsFiltered":
		var p findingFilterParams
		if e := decodeParams(raw, &p, true); e != nil {
			return nil, e
		}
		return queryResult(s.store.RecentFindingsFiltered(p.Limit, p.Project, p.SeverityLevels, p.MessagePattern))

	default:
		return nil, &RPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

// decodeParams unmarshals raw into dst. Methods whose every field has a
// usable zero value pass optional=true and accept absent params.
func decodeParams(raw json.RawMessage, dst interface{}, optional bool) *RPCError {
	if optional && len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &RPCError{Code: -32602, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// queryResult folds a store call's error into an application RPC error.
func queryResult(v interface{}, err error) (interface{}, *RPCError) {
	if err != nil {
		return nil, &RPCError{Code: -32000, Message: err.Error()}
	}
	return v, nil
}
