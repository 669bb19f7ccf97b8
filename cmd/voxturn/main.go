// Command voxturn is the turn-coordination server between a telephony
// adapter and a dialogue backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Askhat-cmd/voxturn/internal/app"
	"github.com/Askhat-cmd/voxturn/internal/config"
	"github.com/Askhat-cmd/voxturn/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voxturn.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxturn: config file %q not found, copy configs/voxturn.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxturn: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voxturn starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxturn",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.DefaultRegistry()
	printStartupSummary(cfg, reg)

	opts := []app.Option{
		app.WithLevelVar(level),
		app.WithLogger(logger),
		app.WithProviders(providers),
	}
	if *watch {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// Run has already shut down; this only reports a failed teardown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║         voxturn · startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Backend", cfg.Backend.URL)
	printRow("Normalizer", cfg.Normalizer.Name+" of "+strings.Join(reg.Normalizers(), ","))
	printRow("Barge-in", string(cfg.Turn.BargeInPolicy))
	printRow("Input silence", cfg.Turn.InputSilence.String())
	printRow("Voice", voiceLabel(cfg.Voice))
	printRow("Max sessions", fmt.Sprint(cfg.Sessions.MaxSessions))
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 25 {
		value = string([]rune(value)[:24]) + "…"
	}
	fmt.Printf("║  %-14s : %-25s║\n", label, value)
}

func voiceLabel(v config.VoiceConfig) string {
	if v.Name == "" {
		return v.Language
	}
	return v.Name + " / " + v.Language
}
