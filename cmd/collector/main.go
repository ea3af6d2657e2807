package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bitget-radar/configs"
	"bitget-radar/internal/app"
)

func main() {
	cfg, err := configs.AppLoad()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		application.Logger().Infof("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
