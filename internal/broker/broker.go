// ABOUTME: Broker orchestrator that owns the state engine, reaper, and HTTP server
// ABOUTME: Manages listener setup (TCP or tsnet) and graceful shutdown lifecycle

package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/tsnet"

	"github.com/skvil/piertotum/internal/config"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server and tsnet node.
const shutdownTimeout = 5 * time.Second

// Broker coordinates the piertotum server components: the in-memory state
// engine, the stale-agent reaper, the operator console, and the HTTP server.
type Broker struct {
	config      *config.Config
	engine      *Engine
	reaper      *Reaper
	console     *Console
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New creates a Broker instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Broker {
	engine := NewEngine(logger.With("component", "engine"))

	b := &Broker{
		config: cfg,
		engine: engine,
		reaper: NewReaper(engine, ReaperPeriod, logger.With("component", "reaper")),
		logger: logger.With("component", "broker"),
	}

	if !cfg.Console.Disabled {
		b.console = NewConsole(engine, os.Stdin, os.Stdout, logger.With("component", "console"))
	}

	mux := http.NewServeMux()
	b.registerRoutes(mux)

	b.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b
}

// Engine exposes the state engine (used by tests).
func (b *Broker) Engine() *Engine {
	return b.engine
}

// Handler exposes the HTTP handler (used by tests and embedders).
func (b *Broker) Handler() http.Handler {
	return b.httpServer.Handler
}

// Run starts the broker and blocks until the context is canceled or a server
// error occurs. Returns nil on graceful shutdown.
func (b *Broker) Run(ctx context.Context) error {
	listener, err := b.setupListener(ctx)
	if err != nil {
		return err
	}

	b.reaper.Start()
	if b.console != nil {
		b.console.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := b.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		b.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled at this point, so shutdown gets
	// its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := b.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the HTTP listener based on configuration.
func (b *Broker) setupListener(ctx context.Context) (net.Listener, error) {
	if b.config.Tailscale.Enabled {
		return b.setupTailscaleListener(ctx)
	}

	addr := fmt.Sprintf(":%d", b.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return ln, nil
}

// setupTailscaleListener brings up a tsnet node for the broker and returns
// the listener its HTTP server should serve on. The broker joins the tailnet
// as a single node; which port it exposes depends on the funnel/https flags.
func (b *Broker) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := b.config.Tailscale

	node := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   tsCfg.AuthKey,
		Dir:       tsCfg.StateDir,
	}
	if node.AuthKey == "" {
		node.AuthKey = os.Getenv("TS_AUTHKEY")
	}
	if node.AuthKey == "" {
		return nil, errors.New("tailscale is enabled but no auth key is configured (tailscale.auth_key or TS_AUTHKEY)")
	}
	if node.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving tailscale state dir (set tailscale.state_dir explicitly): %w", err)
		}
		node.Dir = filepath.Join(home, ".local", "share", "piertotum", "tsnet")
	}
	if err := os.MkdirAll(node.Dir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	b.logger.Info("joining tailnet", "hostname", tsCfg.Hostname, "state_dir", node.Dir, "ephemeral", tsCfg.Ephemeral)
	st, err := node.Up(ctx)
	if err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("bringing up tailscale node: %w", err)
	}
	b.tsnetServer = node

	dnsName := ""
	if st.Self != nil {
		dnsName = strings.TrimSuffix(st.Self.DNSName, ".")
	}
	b.logger.Info("tailnet node up", "dns_name", dnsName, "addresses", len(st.TailscaleIPs))

	var (
		ln   net.Listener
		mode string
	)
	switch {
	case tsCfg.Funnel:
		mode = "funnel"
		ln, err = node.ListenFunnel("tcp", ":443")
	case tsCfg.HTTPS:
		mode = "https"
		ln, err = b.tailscaleTLSListener(node)
	default:
		mode = "http"
		ln, err = node.Listen("tcp", ":80")
	}
	if err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("tailscale %s listener: %w", mode, err)
	}
	b.logger.Info("serving over tailnet", "mode", mode)
	return ln, nil
}

// tailscaleTLSListener wraps a :443 tsnet listener with the node's
// auto-provisioned certificates.
func (b *Broker) tailscaleTLSListener(node *tsnet.Server) (net.Listener, error) {
	ln, err := node.Listen("tcp", ":443")
	if err != nil {
		return nil, err
	}
	lc, err := node.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// Shutdown gracefully stops the broker and releases resources.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down broker")

	var errs []error
	if err := b.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	b.reaper.Stop()
	if b.console != nil {
		b.console.Stop()
	}

	if b.tsnetServer != nil {
		if err := b.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
