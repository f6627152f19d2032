package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
)

// server is one long-lived child process and the plumbing around it:
// exactly one reader goroutine that owns
// standard output and demultiplexes responses by request ID into a
// per-request pending table, and exactly one writer goroutine that
// owns standard input and serializes outgoing requests. Callers never
// touch the pipes directly; they send on outbox and wait on a
// single-shot channel registered in pending.
type server struct {
	name   string
	cfg    Config
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Uint64

	outbox chan Request

	mu           sync.Mutex
	status       Status
	capabilities []Capability
	lastPing     time.Time
	failureNote  string
	pending      map[string]chan callResult

	done   chan struct{}
	closed atomic.Bool
}

// callResult is what a waiting caller receives: either the decoded
// response or a terminal error such as ServerDown when the process
// dies with the request still pending.
type callResult struct {
	resp Response
	err  error
}

func newServer(name string, cfg Config, logger *slog.Logger) *server {
	return &server{
		name:    name,
		cfg:     cfg,
		logger:  logger,
		outbox:  make(chan Request, 16),
		status:  StatusLaunched,
		pending: make(map[string]chan callResult),
		done:    make(chan struct{}),
	}
}

// start launches the child process and spins up its dedicated reader
// and writer goroutines. It does not perform the handshake; callers do
// that afterward via call().
func (s *server) start() error {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	if s.cfg.Cwd != "" {
		cmd.Dir = s.cfg.Cwd
	}
	cmd.Env = os.Environ()
	for k, v := range s.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errs.Wrap(errs.ConfigError, "opening stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errs.Wrap(errs.ConfigError, "opening stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errs.Wrap(errs.ConfigError, "opening stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return errs.Wrap(errs.ConfigError, "launching tool server process", err)
	}

	s.cmd = cmd
	s.stdin = stdin

	go s.readLoop(stdout)
	go s.writeLoop()
	go s.drainStderr(stderr)
	go s.waitLoop()

	return nil
}

// readLoop owns standard output exclusively. Every response line is
// decoded and routed to the waiting caller by request ID; unsolicited
// or unmatched lines are logged and dropped. A malformed line
// transitions the server to failed.
func (s *server) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn("tool server sent malformed line", "server", s.name, "error", err)
			s.fail(fmt.Sprintf("malformed response line: %v", err))
			return
		}
		s.deliver(resp)
	}
	// stdout closed: process exited or pipe broke. waitLoop handles the
	// resulting status transition.
}

func (s *server) deliver(resp Response) {
	s.mu.Lock()
	ch, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("dropping unsolicited tool server response", "server", s.name, "id", resp.ID)
		return
	}
	ch <- callResult{resp: resp}
}

// writeLoop owns standard input exclusively, serializing every
// outgoing request so the protocol never sees concurrent writes.
func (s *server) writeLoop() {
	enc := json.NewEncoder(s.stdin)
	for req := range s.outbox {
		if err := enc.Encode(req); err != nil {
			s.logger.Warn("failed to write tool server request", "server", s.name, "error", err)
			s.fail(fmt.Sprintf("write error: %v", err))
			return
		}
	}
}

func (s *server) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Debug("tool server stderr", "server", s.name, "line", scanner.Text())
	}
}

func (s *server) waitLoop() {
	err := s.cmd.Wait()
	close(s.done)
	if s.closed.Load() {
		s.setStatus(StatusStopped)
		return
	}
	note := "process exited unexpectedly"
	if err != nil {
		note = fmt.Sprintf("process exited unexpectedly: %v", err)
	}
	s.fail(note)
}

func (s *server) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// fail transitions the server to failed and resolves every pending
// request on it with ServerDown. Idempotent.
func (s *server) fail(note string) {
	s.mu.Lock()
	if s.status == StatusFailed || s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusFailed
	s.failureNote = note
	pending := s.pending
	s.pending = make(map[string]chan callResult)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: errs.New(errs.ServerDown, note)}
	}
}

func (s *server) snapshotStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *server) snapshotInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	caps := make([]Capability, len(s.capabilities))
	copy(caps, s.capabilities)
	return Info{
		Name:         s.name,
		Status:       s.status,
		Capabilities: caps,
		LastPing:     s.lastPing,
		FailureNote:  s.failureNote,
	}
}

// call sends method/params and blocks for the matching response or
// ctx's deadline, whichever comes first. A caller's timeout cancels
// only its own wait; the writer and reader loops are unaffected, and a
// late reply that arrives after timeout is simply dropped by deliver.
func (s *server) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	st := s.snapshotStatus()
	handshaking := st == StatusLaunched && (method == "initialize" || method == "tools/list")
	if st != StatusReady && !handshaking {
		return nil, errs.New(errs.ServerNotReady, fmt.Sprintf("tool server %q is not ready", s.name))
	}

	id := strconv.FormatUint(s.nextID.Add(1), 10)
	req, err := newRequest(id, method, params)
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, "encoding request", err)
	}

	ch := make(chan callResult, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	select {
	case s.outbox <- req:
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, errs.Wrap(errs.Timeout, "sending request", ctx.Err())
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, errs.New(errs.ProtocolError, res.resp.Error.Message)
		}
		return res.resp.Result, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, errs.Wrap(errs.Timeout, fmt.Sprintf("waiting for %q response", method), ctx.Err())
	}
}

// shutdown closes standard input (the protocol-level exit signal),
// waits up to grace for the process to exit, then kills it. Idempotent.
func (s *server) shutdown(grace time.Duration) {
	if s.closed.Swap(true) {
		return
	}
	if s.cmd == nil {
		// The process never launched; there is nothing to stop and the
		// failed status is the accurate record.
		return
	}
	_ = s.stdin.Close()
	close(s.outbox)

	select {
	case <-s.done:
	case <-time.After(grace):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.done
	}
	s.setStatus(StatusStopped)
}
