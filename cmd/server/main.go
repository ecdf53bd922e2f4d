package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kgstore/internal/config"
	"github.com/OFFIS-RIT/kgstore/internal/server"
	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		JSON:   cfg.JSONLog,
		Prefix: "server",
	}))
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		logger.Fatal("Server failed", "err", err)
	}
}
