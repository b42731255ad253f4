// Package main provides the entry point for the roadwatch command.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/listenupapp/roadwatch/internal/di"
	"github.com/listenupapp/roadwatch/internal/logger"
)

func main() {
	// Create DI container
	injector := di.NewContainer(os.Args[1:], os.Stdout)

	// Bootstrap starts every watch session
	if err := di.Bootstrap(injector); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Failed to start roadwatch: %v\n", err)
		injector.Shutdown()
		os.Exit(1)
	}

	// Get logger for shutdown messages
	log := do.MustInvoke[*logger.Logger](injector)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down roadwatch...")

	// The DI container stops the watch group
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("Stopped")
}
