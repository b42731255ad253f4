// Package di provides dependency injection configuration for the roadwatch CLI.
package di

import (
	"io"

	"github.com/samber/do/v2"

	"github.com/listenupapp/roadwatch/internal/config"
	"github.com/listenupapp/roadwatch/internal/di/providers"
	"github.com/listenupapp/roadwatch/internal/logger"
	"github.com/listenupapp/roadwatch/internal/sink"
)

// NewContainer creates and configures the DI container with all providers.
// args excludes the program name; events are printed to out.
func NewContainer(args []string, out io.Writer) *do.RootScope {
	injector := do.New()

	// Process inputs
	do.ProvideValue(injector, providers.Args(args))
	do.ProvideValue(injector, providers.Output{Writer: out})

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Watching
	do.Provide(injector, providers.ProvidePrinter)
	do.Provide(injector, providers.ProvideWatchGroup)

	return injector
}

// Bootstrap initializes all services, which starts watching.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*logger.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*sink.Printer](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.WatchGroupHandle](injector); err != nil {
		return err
	}
	return nil
}
