// Package toolserver implements the Tool Server Supervisor: it
// launches configured tool servers as child processes, completes their
// capability-discovery handshake, routes tool calls to the right
// server, and shuts everything down cleanly.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/observability"
)

const protocolVersion = "2024-11-05"

// Supervisor owns every tool-server child process for one orchestrator
// instance.
type Supervisor struct {
	handshakeTimeout time.Duration
	shutdownGrace    time.Duration
	logger           *slog.Logger
	metrics          *observability.Metrics

	mu      sync.RWMutex
	servers map[string]*server
	// toolIndex maps a bare tool name to the server that owns it, for
	// routing calls without requiring callers to know server names.
	toolIndex map[string]string
}

// SetMetrics attaches a Prometheus metrics sink. Safe to call once
// after New; nil disables instrumentation.
func (s *Supervisor) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// New constructs a Supervisor. handshakeTimeout bounds the
// initialize+tools/list exchange per server.
func New(handshakeTimeout time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		handshakeTimeout: handshakeTimeout,
		shutdownGrace:    5 * time.Second,
		logger:           logger,
		servers:          make(map[string]*server),
		toolIndex:        make(map[string]string),
	}
}

// StartAll launches every enabled server in cfg concurrently and waits
// until each has reached a terminal handshake outcome (ready or
// failed). It never fails because one server failed; it only fails
// with ConfigError when cfg itself is unusable.
func (s *Supervisor) StartAll(ctx context.Context, cfg map[string]Config) error {
	if cfg == nil {
		return errs.New(errs.ConfigError, "tool server configuration is nil")
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, c := range cfg {
		name, c := name, c
		if !c.Enabled {
			continue
		}
		g.Go(func() error {
			s.launchOne(gctx, name, c)
			return nil
		})
	}
	// errgroup's ctx cancellation on error is unused here since
	// launchOne never returns an error; Wait simply joins every
	// goroutine before StartAll returns, matching "returns after every
	// server has reached a terminal handshake outcome".
	return g.Wait()
}

func (s *Supervisor) launchOne(ctx context.Context, name string, c Config) {
	srv := newServer(name, c, s.logger.With("server", name))

	s.mu.Lock()
	s.servers[name] = srv
	s.mu.Unlock()

	if err := srv.start(); err != nil {
		srv.fail(err.Error())
		s.logger.Warn("tool server failed to launch", "server", name, "error", err)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	if err := s.handshake(hctx, srv); err != nil {
		srv.fail(err.Error())
		s.logger.Warn("tool server handshake failed", "server", name, "error", err)
		return
	}

	srv.setStatus(StatusReady)
	s.logger.Info("tool server ready", "server", name, "tools", len(srv.capabilities))

	s.mu.Lock()
	for _, cap := range srv.capabilities {
		s.toolIndex[cap.Name] = name
	}
	s.mu.Unlock()
}

func (s *Supervisor) handshake(ctx context.Context, srv *server) error {
	initParams := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ClientInfo:      clientInfo{Name: "orchestrator", Version: "1.0"},
	}
	if _, err := srv.call(ctx, "initialize", initParams); err != nil {
		return err
	}

	raw, err := srv.call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return errs.Wrap(errs.ProtocolError, "decoding tools/list result", err)
	}

	caps := make([]Capability, 0, len(list.Tools))
	for _, t := range list.Tools {
		caps = append(caps, Capability{Name: t.Name, Description: t.Description, Schema: t.InputSchema})
	}

	srv.mu.Lock()
	srv.capabilities = caps
	srv.lastPing = time.Now()
	srv.mu.Unlock()
	return nil
}

// ListActiveServers returns the currently ready server names, sorted
// lexicographically.
func (s *Supervisor) ListActiveServers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name, srv := range s.servers {
		if srv.snapshotStatus() == StatusReady {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ServerInfos returns a snapshot of every enabled server StartAll
// launched, in name order, whatever its status, for status displays.
// Disabled servers are not included.
func (s *Supervisor) ServerInfos() []Info {
	s.mu.RLock()
	servers := make([]*server, 0, len(s.servers))
	for _, srv := range s.servers {
		servers = append(servers, srv)
	}
	s.mu.RUnlock()

	out := make([]Info, 0, len(servers))
	for _, srv := range servers {
		out = append(out, srv.snapshotInfo())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListTools returns the capabilities (name, description, parameter
// schema) advertised by the given server.
func (s *Supervisor) ListTools(serverName string) ([]Capability, error) {
	srv, err := s.get(serverName)
	if err != nil {
		return nil, err
	}
	if srv.snapshotStatus() != StatusReady {
		return nil, errs.New(errs.ServerNotReady, fmt.Sprintf("server %q is not ready", serverName))
	}
	return srv.snapshotInfo().Capabilities, nil
}

// AllCapabilities returns every discovered capability across every
// ready server, used by the Task Executor to build its selection
// catalogue.
func (s *Supervisor) AllCapabilities() []Capability {
	s.mu.RLock()
	names := make([]string, 0, len(s.servers))
	for name := range s.servers {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	var out []Capability
	for _, name := range names {
		if caps, err := s.ListTools(name); err == nil {
			out = append(out, caps...)
		}
	}
	return out
}

// ResolveServerForTool returns the server name that owns toolName, or
// ToolUnknown if no ready server advertises it.
func (s *Supervisor) ResolveServerForTool(toolName string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.toolIndex[toolName]
	if !ok {
		return "", errs.New(errs.ToolUnknown, fmt.Sprintf("no ready server advertises tool %q", toolName))
	}
	return name, nil
}

// CallTool issues a tools/call request against the named server with a
// per-call timeout.
func (s *Supervisor) CallTool(ctx context.Context, serverName, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	start := time.Now()
	result, err := s.callTool(ctx, serverName, toolName, args, timeout)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveToolCall(serverName, toolName, outcome, time.Since(start).Seconds())
	return result, err
}

func (s *Supervisor) callTool(ctx context.Context, serverName, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	srv, err := s.get(serverName)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := srv.call(cctx, "tools/call", toolsCallParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, errs.Wrap(errs.ProtocolError, "decoding tools/call result", err)
		}
	}
	return result, nil
}

func (s *Supervisor) get(name string) (*server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[name]
	if !ok {
		return nil, errs.New(errs.ServerNotReady, fmt.Sprintf("unknown tool server %q", name))
	}
	return srv, nil
}

// ShutdownAll closes every server's stdin, waits up to a grace period,
// and kills any process still alive. Idempotent; never fails.
func (s *Supervisor) ShutdownAll() {
	s.mu.RLock()
	servers := make([]*server, 0, len(s.servers))
	for _, srv := range s.servers {
		servers = append(servers, srv)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *server) {
			defer wg.Done()
			srv.shutdown(s.shutdownGrace)
			s.logger.Info("tool server stopped", "server", srv.name)
		}(srv)
	}
	wg.Wait()
}
