package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/checksift/sift/internal/checkdef"
	"github.com/checksift/sift/internal/envset"
	"github.com/checksift/sift/internal/ingest"
	"github.com/checksift/sift/internal/model"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of checks executed in parallel.
const DefaultConcurrency = 4

// maxToolLineSize bounds a single line of tool output.
const maxToolLineSize = 1024 * 1024 // 1MB

// CheckResult holds the outcome of one executed check.
type CheckResult struct {
	Name     string
	ExitCode int // raw exit code of the tool, -1 when it never ran
	Findings int64
	Duration time.Duration
	Err      error // non-nil when the tool could not be executed
}

// Result aggregates a full harness run.
type Result struct {
	Run    model.Run
	Checks []CheckResult
}

// ExitCode returns the normalized harness exit status: 0 when every check
// ran and exited 0, otherwise 1. Tool exit codes are never passed through.
func (r *Result) ExitCode() int {
	if r.Run.Outcome == model.OutcomeClean {
		return 0
	}
	return 1
}

// Config holds tunable parameters for the runner.
type Config struct {
	Concurrency int
	Only        []string // run only these check names; empty = all
	BaseEnv     []string // defaults to os.Environ()
	Lookup      func(string) (string, bool)
}

// Runner executes the checks declared in a definition file, streams their
// output through diagnostic processing, and classifies the overall outcome.
type Runner struct {
	file        *checkdef.File
	sink        ingest.RecordSink
	concurrency int
	only        map[string]bool
	baseEnv     []string
	lookup      func(string) (string, bool)
}

// New creates a runner for the given check definitions.
// Findings parsed from tool output are delivered to sink.
func New(file *checkdef.File, sink ingest.RecordSink, conf ...Config) *Runner {
	r := &Runner{
		file:        file,
		sink:        sink,
		concurrency: DefaultConcurrency,
		baseEnv:     os.Environ(),
		lookup:      os.LookupEnv,
	}
	if len(conf) > 0 {
		if conf[0].Concurrency > 0 {
			r.concurrency = conf[0].Concurrency
		}
		if len(conf[0].Only) > 0 {
			r.only = make(map[string]bool, len(conf[0].Only))
			for _, name := range conf[0].Only {
				r.only[name] = true
			}
		}
		if conf[0].BaseEnv != nil {
			r.baseEnv = conf[0].BaseEnv
		}
		if conf[0].Lookup != nil {
			r.lookup = conf[0].Lookup
		}
	}
	return r
}

// countingSink wraps a RecordSink and counts findings delivered through it.
type countingSink struct {
	inner ingest.RecordSink
	count atomic.Int64
}

func (c *countingSink) Add(f *model.Finding) {
	c.count.Add(1)
	if c.inner != nil {
		c.inner.Add(f)
	}
}

// Run executes all selected checks and returns the aggregated result.
// The environment of every check is resolved before any check starts, so
// a missing required variable fails the run without side effects.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	checks := r.selectChecks()
	if len(checks) == 0 {
		return nil, errors.New("runner: no checks to run")
	}

	type prepared struct {
		check checkdef.Check
		env   []string
	}
	preps := make([]prepared, 0, len(checks))
	for _, c := range checks {
		resolved, err := envset.Resolve(r.file.EnvFor(c), r.lookup)
		if err != nil {
			return nil, fmt.Errorf("runner: check %q: %w", c.Name, err)
		}
		for _, w := range resolved.Warnings() {
			log.Printf("runner: check %s: %s", c.Name, w)
		}
		preps = append(preps, prepared{check: c, env: resolved.Environ(r.baseEnv)})
	}

	runID := fmt.Sprintf("run-%x", time.Now().UTC().UnixNano())
	startedAt := time.Now()

	results := make([]CheckResult, len(preps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, p := range preps {
		g.Go(func() error {
			results[i] = r.runCheck(gctx, runID, p.check, p.env)
			return nil
		})
	}
	// Worker funcs never return errors; failures are carried in results.
	_ = g.Wait()

	run := model.Run{
		ID:        runID,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Project:   r.file.Project,
		Checks:    len(results),
	}

	anyError := false
	anyNonZero := false
	for _, cr := range results {
		run.Findings += cr.Findings
		if cr.Err != nil {
			anyError = true
		} else if cr.ExitCode != 0 {
			anyNonZero = true
		}
	}
	// Outcome tracks tool exit status only. A tool that prints output but
	// exits 0 passed its own policy, and the harness respects that.
	switch {
	case anyError:
		run.Outcome = model.OutcomeError
	case anyNonZero:
		run.Outcome = model.OutcomeFindings
	default:
		run.Outcome = model.OutcomeClean
	}

	res := &Result{Run: run, Checks: results}
	res.Run.ExitCode = res.ExitCode()
	return res, nil
}

func (r *Runner) selectChecks() []checkdef.Check {
	if r.only == nil {
		return r.file.Checks
	}
	out := make([]checkdef.Check, 0, len(r.file.Checks))
	for _, c := range r.file.Checks {
		if r.only[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// runCheck executes one tool and streams its output into the processor.
func (r *Runner) runCheck(ctx context.Context, runID string, c checkdef.Check, env []string) CheckResult {
	result := CheckResult{Name: c.Name, ExitCode: -1}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	counter := &countingSink{inner: r.sink}
	mode := ingest.ProcessorModeParse
	if c.Format == checkdef.FormatPassthrough {
		mode = ingest.ProcessorModePassthrough
	}
	processor := ingest.NewEnvelopeProcessor(mode, counter, "runner")
	processor.SetProject(r.file.Project)

	cctx, cancel := context.WithTimeout(ctx, c.Timeout.Std())
	defer cancel()

	cmd := exec.CommandContext(cctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = env
	// Tools routinely fork helpers that inherit the output pipes. Run the
	// tool in its own process group and kill the group on timeout, so no
	// orphaned grandchild keeps the pipes open past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		result.Err = fmt.Errorf("stdout pipe: %w", err)
		return result
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		result.Err = fmt.Errorf("stderr pipe: %w", err)
		return result
	}

	if err := cmd.Start(); err != nil {
		result.Err = fmt.Errorf("start %s: %w", c.Command, err)
		return result
	}

	// Both streams feed the same processor; a mutex keeps its multi-line
	// JSON accumulation state consistent. Each stream is always drained to
	// EOF so the tool never blocks writing to a full pipe.
	var mu sync.Mutex
	feed := func(pipe io.Reader) {
		rdr := bufio.NewReaderSize(pipe, 64*1024)
		for {
			line, err := readLineCapped(rdr)
			if line != "" {
				mu.Lock()
				processor.ProcessEnvelope(model.IngestEnvelope{
					Source: "runner",
					Check:  c.Name,
					RunID:  runID,
					Line:   line,
				})
				mu.Unlock()
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Printf("runner: check %s: read output: %v", c.Name, err)
				}
				return
			}
		}
	}

	var streams sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		streams.Add(1)
		go func() {
			defer streams.Done()
			feed(pipe)
		}()
	}
	streams.Wait()

	err = cmd.Wait()
	result.Findings = counter.count.Load()

	switch {
	case err == nil:
		result.ExitCode = 0
	case cctx.Err() == context.DeadlineExceeded:
		result.Err = fmt.Errorf("timed out after %s", c.Timeout.Std())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Err = err
		}
	}
	return result
}

// readLineCapped reads one line, keeping at most maxToolLineSize bytes.
// The remainder of an oversized line is consumed and discarded, so the
// stream stays aligned on line boundaries and the producer is never
// stalled on a full pipe.
func readLineCapped(rdr *bufio.Reader) (string, error) {
	var buf []byte
	truncated := false
	for {
		chunk, isPrefix, err := rdr.ReadLine()
		if len(chunk) > 0 && !truncated {
			if room := maxToolLineSize - len(buf); len(chunk) > room {
				chunk = chunk[:room]
				truncated = true
			}
			buf = append(buf, chunk...)
		}
		if err != nil {
			return string(buf), err
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}
