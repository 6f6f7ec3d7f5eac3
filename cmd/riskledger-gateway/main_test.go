package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/davidahmann/riskledger/internal/config"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:9999"
	cfg.DB = config.DBConfig{Driver: "memory"}
	return cfg
}

func TestNewServer(t *testing.T) {
	srv, closer, err := newServer(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer closer.Close()

	if srv.Addr != "127.0.0.1:9999" {
		t.Fatalf("expected addr 127.0.0.1:9999, got %s", srv.Addr)
	}
	if srv.Handler == nil {
		t.Fatalf("expected handler to be set")
	}

	res := httptest.NewRecorder()
	srv.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d: %s", res.Code, res.Body.String())
	}

	res = httptest.NewRecorder()
	srv.Handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "go_goroutines") {
		t.Fatalf("expected runtime metrics, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/verify", nil)
	req.Header.Set("X-Auth-Token", "admin@demo")
	res = httptest.NewRecorder()
	srv.Handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected demo admin token to verify, got %d: %s", res.Code, res.Body.String())
	}
}

func TestNewServerBadDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.DB.Driver = "oracle"
	if _, _, err := newServer(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunDefaults(t *testing.T) {
	factory := func(_ context.Context, cfg config.Config, _ zerolog.Logger) (*http.Server, io.Closer, error) {
		if cfg.ListenAddr != ":8080" {
			t.Fatalf("expected default addr, got %s", cfg.ListenAddr)
		}
		if cfg.DB.Driver != "sqlite" {
			t.Fatalf("expected default driver, got %s", cfg.DB.Driver)
		}
		return &http.Server{Addr: cfg.ListenAddr}, nil, nil
	}

	listen := func(_ *http.Server) error {
		return http.ErrServerClosed
	}

	getenv := func(string) string { return "" }
	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunError(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(_ *http.Server) error {
		return listenErr
	}

	closed := false
	factory := func(_ context.Context, cfg config.Config, _ zerolog.Logger) (*http.Server, io.Closer, error) {
		return &http.Server{Addr: cfg.ListenAddr}, closerFunc(func() error {
			closed = true
			return nil
		}), nil
	}

	getenv := func(string) string { return "" }
	if err := run(nil, getenv, listen, factory); !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
	if !closed {
		t.Fatalf("expected ledger to be closed")
	}
}

func TestRunFactoryError(t *testing.T) {
	factory := func(context.Context, config.Config, zerolog.Logger) (*http.Server, io.Closer, error) {
		return nil, nil, errors.New("open failed")
	}
	listen := func(*http.Server) error {
		t.Fatalf("listen must not be called")
		return nil
	}
	if err := run(nil, func(string) string { return "" }, listen, factory); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskledger.yaml")
	body := "listen_addr: \":9999\"\ndb:\n  driver: memory\nauth:\n  strict: true\n  tokens:\n    - token: t-1\n      actor: alice\n      role: admin\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	factory := func(_ context.Context, cfg config.Config, _ zerolog.Logger) (*http.Server, io.Closer, error) {
		if cfg.ListenAddr != ":9999" {
			t.Fatalf("expected addr from config, got %s", cfg.ListenAddr)
		}
		if cfg.DB.Driver != "memory" || !cfg.Auth.Strict || len(cfg.Auth.Tokens) != 1 {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		return &http.Server{Addr: cfg.ListenAddr}, nil, nil
	}

	listen := func(_ *http.Server) error { return http.ErrServerClosed }
	getenv := func(key string) string {
		if key == "RISKLEDGER_CONFIG_PATH" {
			return path
		}
		return ""
	}

	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunStrictAuthWithoutTokens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskledger.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  strict: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	factory := func(context.Context, config.Config, zerolog.Logger) (*http.Server, io.Closer, error) {
		t.Fatalf("factory must not be called")
		return nil, nil, nil
	}
	listen := func(*http.Server) error { return nil }

	if err := run([]string{"-config", path}, func(string) string { return "" }, listen, factory); err == nil {
		t.Fatalf("expected strict auth error")
	}
}

func TestRunBadFlag(t *testing.T) {
	if err := run([]string{"-nope"}, func(string) string { return "" }, nil, nil); err == nil {
		t.Fatalf("expected flag error")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "a", "b"); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	err := listenAndServe(&http.Server{Addr: "127.0.0.1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMainNoError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, envFn envFn, listenFn listenFn, serverFactory serverFactory) error {
		return nil
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if called {
		t.Fatalf("unexpected fatal call")
	}
}

func TestMainError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, envFn envFn, listenFn listenFn, serverFactory serverFactory) error {
		return errors.New("boom")
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if !called {
		t.Fatalf("expected fatal call")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
