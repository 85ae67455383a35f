package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/InsulaLabs/rfs/config"
	"github.com/InsulaLabs/rfs/db/engine"
	"github.com/InsulaLabs/rfs/db/vstore"
	"github.com/InsulaLabs/rfs/service"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	logger         *slog.Logger
	configPath     string
	generateConfig bool
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger = slog.New(handler)

	flag.StringVar(&configPath, "config", "rfs.yaml", "Path to the service configuration file")
	flag.BoolVar(&generateConfig, "generate-config", false, "Write a default configuration to the --config path and exit")
}

func writeDefaultConfig(path string) error {
	cfg := config.GenerateConfig()
	cfg.ApiToken = uuid.New().String()
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

func main() {
	flag.Parse()

	if generateConfig {
		if err := writeDefaultConfig(configPath); err != nil {
			logger.Error("Failed to generate config", "path", configPath, "error", err)
			os.Exit(1)
		}
		logger.Info("Wrote default configuration", "path", configPath)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	store, err := vstore.New(vstore.Config{
		Logger:    logger,
		Directory: cfg.DataDir,
	})
	if err != nil {
		logger.Error("Failed to open volume store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(engine.Config{
		Logger:    logger,
		Store:     store,
		VolumeTTL: cfg.VolumeTTL,
	})
	if err != nil {
		logger.Error("Failed to initialize engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("Engine close error", "error", err)
		}
	}()

	svc := service.New(ctx, logger.WithGroup("service"), cfg, eng)
	eng.SetEventReceiver(svc)

	svc.Run()
}
