// Package daemon wires the ledger, the contract and both transports into
// the celerix-stored process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-userman/internal/api"
	"github.com/celerix-dev/celerix-userman/internal/auth"
	"github.com/celerix-dev/celerix-userman/internal/config"
	"github.com/celerix-dev/celerix-userman/internal/contract"
	"github.com/celerix-dev/celerix-userman/internal/engine"
	"github.com/celerix-dev/celerix-userman/internal/gateway"
	"github.com/celerix-dev/celerix-userman/internal/server"
	"github.com/celerix-dev/celerix-userman/internal/vault"
)

// Daemon is a running ledger with its TCP and HTTP listeners.
type Daemon struct {
	cfg     config.Config
	logger  *slog.Logger
	backend engine.Backend
	gateway *gateway.Gateway
	router  *server.Router
	http    *http.Server
}

// New opens the configured backend and prepares both listeners.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg, cfg.Backend, logger)
	if err != nil {
		return nil, err
	}

	um := contract.New()
	um.Logger = logger
	gw := gateway.New(engine.NewLedger(backend), um)
	tokens := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)

	router := server.NewRouter(gw, tokens)
	router.SetLogger(logger)
	if !cfg.DisableTLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
		logger.Info("TLS encryption enabled")
	} else {
		logger.Info("TLS encryption disabled", "env", "CELERIX_DISABLE_TLS")
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	h := &api.Handler{Gateway: gw, Tokens: tokens}

	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		gateway: gw,
		router:  router,
		http: &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           api.NewEngine(h, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts down
// and flushes the backend.
func (d *Daemon) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		d.logger.Info("HTTP API listening", "port", d.cfg.HTTPPort)
		if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	go func() {
		d.logger.Info("ledger listening", "port", d.cfg.Port, "transport", "tcp")
		if err := d.router.Listen(d.cfg.Port); err != nil {
			errCh <- fmt.Errorf("TCP server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received, finalizing writes")
	case runErr = <-errCh:
		d.logger.Error("listener failed", "error", runErr)
	}

	return errors.Join(runErr, d.shutdown())
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := d.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	// Open TCP connections may still be committing; drain them before the
	// backend is flushed and closed.
	if err := d.router.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	d.logger.Info("persistence complete")
	return errors.Join(errs...)
}

// Gateway exposes the wired gateway.
func (d *Daemon) Gateway() *gateway.Gateway {
	return d.gateway
}

// TCPAddr returns the bound TCP address once the router is listening.
func (d *Daemon) TCPAddr() net.Addr {
	return d.router.Addr()
}
