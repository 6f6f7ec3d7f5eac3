package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/riskledger/internal/api"
	"github.com/davidahmann/riskledger/internal/auth"
	"github.com/davidahmann/riskledger/internal/config"
	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/ledger/ledgerdb"
	"github.com/davidahmann/riskledger/internal/logging"
	"github.com/davidahmann/riskledger/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe, newServer); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

// newServer opens the ledger and wires the HTTP stack. The returned closer
// releases the ledger connection.
func newServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*http.Server, io.Closer, error) {
	store, err := ledgerdb.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}

	authn, demo, err := auth.Setup(cfg.Auth.Tokens, cfg.Auth.Strict)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	if demo {
		logger.Warn().Msg("no tokens configured, accepting demo tokens reviewer@demo and admin@demo")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := api.NewService(api.NewServiceInput{
		Ledger:  ledger.New(store),
		Logger:  logger,
		Metrics: metrics.NewLedgerMetrics(reg),
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	h := &api.Handler{
		Auth:    authn,
		Service: svc,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Log:     logger,
	}
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, store, nil
}

type envFn func(string) string
type listenFn func(*http.Server) error
type serverFactory func(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*http.Server, io.Closer, error)

func run(args []string, getenv envFn, listen listenFn, factory serverFactory) error {
	flags := flag.NewFlagSet("riskledger-gateway", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to riskledger config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config, if present")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	cfg, err := config.Load(firstNonEmpty(*configPath, getenv("RISKLEDGER_CONFIG_PATH")))
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		Service: "riskledger-gateway",
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})

	server, closer, err := factory(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	logger.Info().
		Str("addr", server.Addr).
		Str("db_driver", cfg.DB.Driver).
		Bool("auth_strict", cfg.Auth.Strict).
		Msg("riskledger-gateway listening")
	if err := listen(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// listenAndServe serves until the listener fails or SIGINT/SIGTERM arrives,
// then drains in-flight requests.
func listenAndServe(server *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
