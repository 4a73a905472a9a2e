package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitrokun/wyoming-supertonic/internal/config"
	"github.com/mitrokun/wyoming-supertonic/internal/runtime"
)

var version = "1.4.0"

func main() {
	var (
		configPath  string
		uri         string
		voice       string
		language    string
		speed       float64
		steps       int
		threads     int
		noStreaming bool
		debug       bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&uri, "uri", "", "Server URI, e.g. tcp://0.0.0.0:10209")
	flag.StringVar(&voice, "voice", "", "Default voice style")
	flag.StringVar(&language, "language", "", "Default language")
	flag.Float64Var(&speed, "speed", 0, "Speech speed (0.5-2.0)")
	flag.IntVar(&steps, "steps", 0, "Denoising steps per unit")
	flag.IntVar(&threads, "threads", 0, "Concurrent synthesis budget")
	flag.BoolVar(&noStreaming, "no-streaming", false, "Synthesize whole requests instead of sentence by sentence")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Flags beat both the file and the environment.
	if uri != "" {
		cfg.Server.URI = uri
	}
	if voice != "" {
		cfg.Engine.Voice = voice
	}
	if language != "" {
		cfg.Engine.Language = language
	}
	if speed != 0 {
		cfg.Engine.Speed = speed
	}
	if steps != 0 {
		cfg.Engine.Steps = steps
	}
	if threads != 0 {
		cfg.Engine.Threads = threads
	}
	if noStreaming {
		cfg.Synthesis.Streaming = false
	}
	if debug {
		cfg.Telemetry.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
