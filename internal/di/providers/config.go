// Package providers contains dependency injection providers for the roadwatch CLI.
package providers

import (
	"io"

	"github.com/samber/do/v2"

	"github.com/listenupapp/roadwatch/internal/config"
	"github.com/listenupapp/roadwatch/internal/logger"
)

// Args are the command-line arguments without the program name.
type Args []string

// Output is where events are printed.
type Output struct {
	io.Writer
}

// ProvideConfig provides the CLI configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	args := do.MustInvoke[Args](i)
	return config.LoadConfig(args)
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development" && cfg.Logger.Level == "debug",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting roadwatch",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"roots", len(cfg.Watch.Roots),
		"format", cfg.Output.Format,
	)

	return log, nil
}
