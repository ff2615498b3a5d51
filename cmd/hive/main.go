// Command hive is the engine's process entrypoint: it loads process
// configuration, wires the session manager's dependencies (LLM client,
// tool executor, judge, checkpoint store), and serves the HTTP API.
// Grounded on the teacher's cmd/tarsy/main.go bootstrap shape (load .env,
// build config, construct services, start the HTTP server, wait for a
// shutdown signal) but wired to this engine's own dependency graph.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pajohmail/aden-hive/pkg/api"
	"github.com/pajohmail/aden-hive/pkg/bus"
	"github.com/pajohmail/aden-hive/pkg/checkpoint"
	"github.com/pajohmail/aden-hive/pkg/config"
	"github.com/pajohmail/aden-hive/pkg/judge"
	"github.com/pajohmail/aden-hive/pkg/llm"
	"github.com/pajohmail/aden-hive/pkg/llm/grpcclient"
	"github.com/pajohmail/aden-hive/pkg/llm/mockllm"
	"github.com/pajohmail/aden-hive/pkg/metrics"
	"github.com/pajohmail/aden-hive/pkg/registry"
	"github.com/pajohmail/aden-hive/pkg/session"
	"github.com/pajohmail/aden-hive/pkg/state"
	"github.com/pajohmail/aden-hive/pkg/tool"
	"github.com/pajohmail/aden-hive/pkg/tool/mcp"
	"github.com/pajohmail/aden-hive/pkg/version"
)

func main() {
	slog.Info("starting", "version", version.Full())

	cfg, err := config.LoadProcessConfig(".env")
	if err != nil {
		slog.Error("loading process config", "error", err)
		os.Exit(1)
	}

	checkpoints := checkpoint.NewStore(filepath.Join(cfg.HiveHome, "checkpoints"))
	checkpoints.StartEviction(24*time.Hour, time.Hour)
	defer checkpoints.StopEviction()

	llmClient := newLLMClient(cfg.LLMSidecarAddr)
	defer llmClient.Close()

	newTools, closeTools := newToolsFactory(cfg.MCPServerID, cfg.MCPServerURL)
	defer closeTools()

	mgr := session.NewManager(session.Deps{
		NewLLM:      func(string) llm.Client { return llmClient },
		NewTools:    newTools,
		NewJudge:    func(c llm.Client) *judge.Protocol { return judge.NewProtocol(nil, c, 0.7, "") },
		Checkpoints: checkpoints,
		Isolation:   state.Shared,
	})
	defer mgr.Shutdown()

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg, mgr.Bus())
	defer rec.Close()

	mgr.Bus().SetReservedEventsEnabled(cfg.FeatureReservedEvents)

	if cfg.EventDebugLog {
		logFile, err := enableEventDebugLog(mgr.Bus(), cfg.HiveHome)
		if err != nil {
			slog.Warn("event debug log disabled", "error", err)
		} else {
			defer logFile.Close()
		}
	}

	var dir *registry.SessionDirectory
	if cfg.DatabaseURL != "" {
		d, err := registry.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Warn("session directory disabled: could not connect to database", "error", err)
		} else {
			defer d.Close()
			mgr.SetDirectory(d)
			dir = d
		}
	} else {
		slog.Warn("session directory disabled: DATABASE_URL not set")
	}

	server := api.NewServer(mgr, reg, cfg.HiveHome, dir)
	if err := server.ValidateWiring(); err != nil {
		slog.Error("server wiring incomplete", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.HTTPAddr)
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// newToolsFactory dials the configured MCP server once at startup, the same
// fail-open shape as newLLMClient: an empty serverID disables it outright,
// a dial failure falls back to tool.StubExecutor rather than refusing to
// start, and a successful connection is shared by every session's worker
// (workers are single-flight per session, so one Executor is enough). The
// returned close func tears down the shared MCP connection on shutdown; it
// is a no-op when no real connection was made.
func newToolsFactory(serverID, url string) (func() tool.Executor, func() error) {
	stub := func() tool.Executor { return tool.NewStubExecutor(nil) }
	noopClose := func() error { return nil }

	if serverID == "" {
		return stub, noopClose
	}

	exec, err := mcp.Dial(context.Background(), serverID, url)
	if err != nil {
		slog.Warn("falling back to stub tool executor", "mcp_server_id", serverID, "error", err)
		return stub, noopClose
	}

	slog.Info("connected to MCP server", "mcp_server_id", serverID, "url", url)
	return func() tool.Executor { return exec }, exec.Close
}

// enableEventDebugLog opens a fresh JSONL file under hiveHome/event_logs
// (spec.md §6, "Event debug log (opt-in)") and wires it as b's debug sink.
// The returned file must be closed by the caller on shutdown.
func enableEventDebugLog(b *bus.Bus, hiveHome string) (*os.File, error) {
	dir := filepath.Join(hiveHome, "event_logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating event log dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.jsonl", time.Now().UnixNano()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating event log file: %w", err)
	}

	var mu sync.Mutex
	enc := json.NewEncoder(f)
	b.SetDebugSink(func(e bus.AgentEvent) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(e)
	})

	slog.Info("event debug log enabled", "path", path)
	return f, nil
}

// newLLMClient dials the configured LLM sidecar. grpc.NewClient never
// blocks or fails on an unreachable address (connection is established
// lazily on first RPC), so a dial "failure" here only ever means a
// malformed target string — in which case the process falls back to an
// in-memory mock client rather than refusing to start.
func newLLMClient(addr string) llm.Client {
	c, err := grpcclient.New(addr)
	if err != nil {
		slog.Warn("falling back to mock LLM client", "addr", addr, "error", err)
		return mockllm.New()
	}
	return c
}
