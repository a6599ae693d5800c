// ABOUTME: Entry point for the piertotum worker sidecar
// ABOUTME: Env-configured; embeds the broker client and autonomous loop

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/skvil/piertotum/internal/client"
	"github.com/skvil/piertotum/internal/config"
	"github.com/skvil/piertotum/internal/sampling"
	"github.com/skvil/piertotum/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting piertotum worker",
		"agent_id", cfg.AgentID,
		"agent_name", cfg.AgentName,
		"broker_url", cfg.BrokerURL,
		"auto_process", cfg.AutoProcess,
	)

	sampler := sampling.NewAnthropicSampler(func(o *sampling.AnthropicOptions) {
		o.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if model := os.Getenv("SP_MODEL"); model != "" {
			o.Model = anthropic.Model(model)
		}
	})
	if !sampler.Supported() {
		logger.Warn("no ANTHROPIC_API_KEY set, sampling unsupported; autonomous mode will self-disable")
	}

	w := worker.New(cfg, client.New(cfg.BrokerURL), sampler, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	w.Stop()
	return nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
