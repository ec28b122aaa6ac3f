package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vbonduro/docustitch/internal/config"
	"github.com/vbonduro/docustitch/internal/generator"
	"github.com/vbonduro/docustitch/internal/generator/claude"
	"github.com/vbonduro/docustitch/internal/generator/gemini"
	"github.com/vbonduro/docustitch/internal/generator/ollama"
	"github.com/vbonduro/docustitch/internal/imagestore"
	"github.com/vbonduro/docustitch/internal/imagestore/local"
	"github.com/vbonduro/docustitch/internal/imagestore/minio"
	"github.com/vbonduro/docustitch/internal/logging"
)

// setup loads configuration and builds the logger shared by every command.
// The returned cleanup closes the log file.
func setup() (*config.Config, *slog.Logger, func(), error) {
	if err := config.LoadDotEnv(rootFlags.envFile); err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, cleanup, nil
}

func newBackend(cfg *config.Config, logger *slog.Logger) generator.Backend {
	switch cfg.GeneratorBackend {
	case "claude":
		logger.Info("using Claude generator backend", "model", cfg.ClaudeModel)
		return claude.NewClaudeBackend(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	case "ollama":
		logger.Info("using Ollama generator backend", "model", cfg.OllamaModel)
		return ollama.NewOllamaBackend(cfg.OllamaHost, cfg.OllamaModel)
	default:
		logger.Info("using Gemini generator backend", "model", cfg.GeminiModel)
		return gemini.NewGeminiBackend(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL)
	}
}

func newOrchestrator(cfg *config.Config, logger *slog.Logger) *generator.Orchestrator {
	return generator.NewOrchestrator(newBackend(cfg, logger), logger,
		generator.WithTimeout(cfg.GenerationTimeout),
		generator.WithInstructionsLanguage(cfg.InstructionsLanguage),
	)
}

func newImageStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (imagestore.ImageStore, error) {
	if cfg.PhotoBackend == "minio" {
		logger.Info("using MinIO image store", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
		return minio.New(ctx, minio.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	logger.Info("using local image store", "path", cfg.PhotoPath)
	return local.New(cfg.PhotoPath)
}
