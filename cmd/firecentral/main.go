// Firecentral is the station dispatch daemon: it keeps the roster and
// occurrence catalog, tracks active occurrences, and plays spoken dispatch
// announcements over the station speakers.
//
// Usage:
//
//	firecentral [flags]
//	firecentral --config /path/to/firecentral.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nunoalves/firecentral/internal/announcer"
	"github.com/nunoalves/firecentral/internal/audiocache"
	"github.com/nunoalves/firecentral/internal/config"
	"github.com/nunoalves/firecentral/internal/health"
	"github.com/nunoalves/firecentral/internal/kvstore"
	"github.com/nunoalves/firecentral/internal/playback"
	"github.com/nunoalves/firecentral/internal/server"
	"github.com/nunoalves/firecentral/internal/speech"
	"github.com/nunoalves/firecentral/internal/speech/piper"
	"github.com/nunoalves/firecentral/internal/store"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/firecentral.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("firecentral %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("firecentral starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load the data store snapshot.
	kv := kvstore.Open(cfg.Store.SnapshotPath)
	st, err := store.New(kv)
	if err != nil {
		slog.Error("failed to load data store", "path", cfg.Store.SnapshotPath, "error", err)
		os.Exit(1)
	}
	slog.Info("data store loaded", "path", cfg.Store.SnapshotPath)

	// Open the audio cue cache.
	cache, err := audiocache.Open(cfg.Store.AudioCacheDir)
	if err != nil {
		slog.Error("failed to open audio cache", "dir", cfg.Store.AudioCacheDir, "error", err)
		os.Exit(1)
	}

	// Initialize the speech synthesis backend.
	var synth speech.Synthesizer
	switch cfg.Speech.Backend {
	case "piper":
		synth = piper.New(cfg.Speech.Piper)
		slog.Info("using piper synthesizer",
			"endpoint", cfg.Speech.Piper.Endpoint,
			"voice", cfg.Speech.Piper.Voice)
	default:
		slog.Error("unknown speech backend", "backend", cfg.Speech.Backend)
		os.Exit(1)
	}
	defer synth.Close()

	// Assemble the announcer and the playback chain.
	assembler := announcer.New(st, cache, synth, announcer.Options{
		AlertTonePath:    cfg.Announcer.AlertTonePath,
		VehiclePhrase:    cfg.Announcer.VehiclePhrase,
		StaffPhrase:      cfg.Announcer.StaffPhrase,
		SynthesisTimeout: time.Duration(cfg.Speech.TimeoutSeconds) * time.Second,
	})
	player := playback.NewExecPlayer(cfg.Playback.PlayerCommand, cfg.Playback.PlayerArgs)

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start the command server.
	commandServer := server.New(cfg.Server.Port, st, assembler, player)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := commandServer.ListenAndServe(ctx); err != nil {
			slog.Error("command server failed", "error", err)
			cancel()
		}
	}()

	healthServer.SetReady(true)
	slog.Info("firecentral ready",
		"port", cfg.Server.Port,
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	wg.Wait()
	slog.Info("firecentral stopped")
}
