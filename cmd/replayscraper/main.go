package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/replayscraper/internal/config"
	"github.com/JakeFAU/replayscraper/internal/logging"
	"github.com/JakeFAU/replayscraper/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	app, err := server.Build(cfg, logger)
	if err != nil {
		logger.Fatal("build failed", zap.Error(err))
	}
	if err := app.Listen(); err != nil {
		app.Close()
		logger.Fatal("bind failed", zap.Error(err))
	}
	if err := app.Run(context.Background()); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
