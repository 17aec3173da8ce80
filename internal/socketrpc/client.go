package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/checksift/sift/internal/model"
)

const (
	dialTimeout = 5 * time.Second
	callTimeout = 30 * time.Second
)

// Client implements model.FindingQuerier against a running socket RPC
// server. Calls are serialized over one connection; the mutex keeps
// request and response frames paired.
type Client struct {
	conn net.Conn

	mu     sync.Mutex
	nextID int
	sc     *bufio.Scanner
	enc    *json.Encoder
}

// Dial connects to the socket RPC server at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{conn: conn, sc: sc, enc: json.NewEncoder(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request and decodes the matching response into dest.
func (c *Client) call(method string, params interface{}, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	c.nextID++
	req := Request{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: paramsData}

	c.conn.SetDeadline(time.Now().Add(callTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	resp, err := c.readResponse()
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, dest); err != nil {
		return fmt.Errorf("socketrpc: unmarshal result: %w", err)
	}
	return nil
}

func (c *Client) readResponse() (*Response, error) {
	if !c.sc.Scan() {
		if err := c.sc.Err(); err != nil {
			return nil, fmt.Errorf("socketrpc: read: %w", err)
		}
		return nil, fmt.Errorf("socketrpc: connection closed")
	}
	var resp Response
	if err := json.Unmarshal(c.sc.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	return &resp, nil
}

func (c *Client) TotalFindingCount(opts model.QueryOpts) (int64, error) {
	var n int64
	err := c.call("TotalFindingCount", optsParams{Opts: opts}, &n)
	return n, err
}

func (c *Client) TotalRunCount(opts model.QueryOpts) (int64, error) {
	var n int64
	err := c.call("TotalRunCount", optsParams{Opts: opts}, &n)
	return n, err
}

func (c *Client) SeverityCounts(opts model.QueryOpts) (map[string]int64, error) {
	var counts map[string]int64
	err := c.call("SeverityCounts", optsParams{Opts: opts}, &counts)
	return counts, err
}

func (c *Client) SeverityCountsByMinute(window time.Duration, opts model.QueryOpts) ([]model.MinuteCounts, error) {
	var buckets []model.MinuteCounts
	err := c.call("SeverityCountsByMinute", windowParams{Window: window, Opts: opts}, &buckets)
	return buckets, err
}

func (c *Client) TopRules(limit int, opts model.QueryOpts) ([]model.RuleCount, error) {
	var rules []model.RuleCount
	err := c.call("TopRules", limitParams{Limit: limit, Opts: opts}, &rules)
	return rules, err
}

func (c *Client) TopFiles(limit int, opts model.QueryOpts) ([]model.DimensionCount, error) {
	var files []model.DimensionCount
	err := c.call("TopFiles", limitParams{Limit: limit, Opts: opts}, &files)
	return files, err
}

func (c *Client) TopChecks(limit int, opts model.QueryOpts) ([]model.DimensionCount, error) {
	var checks []model.DimensionCount
	err := c.call("TopChecks", limitParams{Limit: limit, Opts: opts}, &checks)
	return checks, err
}

func (c *Client) TopAttributes(limit int, opts model.QueryOpts) ([]model.AttributeStat, error) {
	var attrs []model.AttributeStat
	err := c.call("TopAttributes", limitParams{Limit: limit, Opts: opts}, &attrs)
	return attrs, err
}

func (c *Client) ListProjects() ([]string, error) {
	var projects []string
	err := c.call("ListProjects", struct{}{}, &projects)
	return projects, err
}

func (c *Client) RunHistory(limit int, opts model.QueryOpts) ([]model.Run, error) {
	var runs []model.Run
	err := c.call("RunHistory", limitParams{Limit: limit, Opts: opts}, &runs)
	return runs, err
}

func (c *Client) RecentFindingsFiltered(limit int, project string, severityLevels []string, messagePattern string) ([]model.Finding, error) {
	var findings []model.Finding
	err := c.call("RecentFindingsFiltered", findingFilterParams{
		Limit:          limit,
		Project:        project,
		SeverityLevels: severityLevels,
		MessagePattern: messagePattern,
	}, &findings)
	return findings, err
}
