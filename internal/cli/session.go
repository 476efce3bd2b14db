package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/forgo/surrealembed/internal/config"
	"github.com/forgo/surrealembed/internal/database"
	"github.com/forgo/surrealembed/internal/kvs"
	"github.com/forgo/surrealembed/internal/middleware"
	"github.com/forgo/surrealembed/internal/relay"
	"github.com/forgo/surrealembed/internal/telemetry"
	"github.com/forgo/surrealembed/pkg/engine"
)

// session is an open client plus the services started for it.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *database.Client
	metrics *http.Server
}

// loadConfig reads the config file and environment, then applies flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if opts.URL != "" {
		cfg.Engine.URL = opts.URL
	}
	if opts.Namespace != "" {
		cfg.Engine.Namespace = opts.Namespace
	}
	if opts.Database != "" {
		cfg.Engine.Database = opts.Database
	}
	if flags.Changed("strict") {
		cfg.Engine.Options.Strict = opts.Strict
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// engines returns every engine the CLI can open: the embedded ones over kvs
// and the remote ones relayed through the SurrealDB Go driver.
func engines(cfg *config.Config, logger *slog.Logger, collector telemetry.Collector) engine.Engines {
	native := kvs.New(kvs.Config{
		Logger:       logger,
		TokenKeyPath: cfg.Token.PrivateKeyPath,
		TokenIssuer:  cfg.Token.Issuer,
		TokenExpiry:  cfg.TokenExpiry(),
	})
	options := []engine.Option{
		engine.WithLogger(logger),
		engine.WithCollector(collector),
	}
	return engine.EmbeddedEngines(native, cfg.Engine.Options, options...).
		Merge(engine.RemoteEngines(relay.New(relay.Config{Logger: logger}), options...))
}

// openSession loads configuration, starts metrics when enabled and connects
// a client to the configured url.
func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	s := &session{cfg: cfg, logger: newLogger(cmd.ErrOrStderr(), cfg)}

	collector := telemetry.Noop()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		pc, err := telemetry.NewPrometheusCollector(reg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
		}
		collector = pc
		if s.metrics, err = serveMetrics(cfg.Metrics.Addr, reg, s.logger); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
	}

	s.db = database.NewClient(database.Config{
		URL:       cfg.Engine.URL,
		Namespace: cfg.Engine.Namespace,
		Database:  cfg.Engine.Database,
		User:      cfg.Engine.User,
		Password:  cfg.Engine.Password,
	}, engines(cfg, s.logger, collector), database.WithLogger(s.logger))
	if err := s.db.Connect(ctx); err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, "failed to connect", err)
	}
	s.logger.Debug("connected", slog.String("url", cfg.Engine.URL))
	return s, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", middleware.Chain(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.Recovery(logger),
	))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", srv.Addr))
	return srv, nil
}

func (s *session) close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("disconnect failed", slog.Any("error", err))
		}
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
}
