package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"storyforge/backend/internal/api"
	"storyforge/backend/pkg/config"
	"storyforge/backend/pkg/logger"

	"github.com/spf13/cobra"
)

const serviceName = "storyforge-backend"

var rootCmd = &cobra.Command{
	Use:   "storyforge",
	Short: "StoryForge backend: prompt rendering and AI chat for novel writing",
	Long: `StoryForge serves the writing assistant API.

It expands {{ keyword }} placeholders in prompt templates with the
project's characters, chapters and world-building, and relays chat turns
to OpenAI-compatible providers with streaming support.`,
	Version:      api.Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and installs the global logger.
func bootstrap() (*config.Config, *logger.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)
	return cfg, log, nil
}
