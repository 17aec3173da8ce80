// Package socketrpc exposes a model.FindingQuerier over a Unix domain
// socket with newline-delimited JSON-RPC 2.0. Each RPC method maps 1:1
// to a FindingQuerier method and carries the same name.
//
// Error codes follow the JSON-RPC 2.0 spec:
//
//	-32700  parse error (malformed request JSON)
//	-32601  method not found
//	-32602  invalid params
//	-32603  internal error (result marshal failure)
//	-32000  application error (query failure)
//
// Count and filter methods (TotalFindingCount, TotalRunCount,
// SeverityCounts, RecentFindingsFiltered) accept empty or null params;
// the zero value of every field means "no filter".
package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/checksift/sift/internal/model"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Param shapes shared by the client and the server dispatcher. Field
// names are the wire format; do not rename them.
type (
	optsParams struct {
		Opts model.QueryOpts
	}
	limitParams struct {
		Limit int
		Opts  model.QueryOpts
	}
	windowParams struct {
		Window time.Duration
		Opts   model.QueryOpts
	}
	findingFilterParams struct {
		Limit          int
		Project        string
		SeverityLevels []string
		MessagePattern string
	}
)

// DefaultSocketPath returns the default Unix socket path. It prefers
// $XDG_RUNTIME_DIR/sift/sift.sock, falling back to
// ~/.local/state/sift/sift.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sift", "sift.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/sift.sock"
	}
	return filepath.Join(home, ".local", "state", "sift", "sift.sock")
}
