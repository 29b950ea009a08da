package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/andy6609/worldchat/internal/chat"
	"github.com/andy6609/worldchat/internal/config"
	"github.com/andy6609/worldchat/internal/logging"
)

func main() {
	cfg, err := config.Load("worldchat-server", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	srv := chat.NewServer(chat.ServerConfig{
		Addr:           cfg.Addr,
		MetricsAddr:    cfg.MetricsAddr,
		OutboundBuffer: cfg.OutboundBuffer,
		Session: chat.SessionOptions{
			FlushTimeout: cfg.FlushTimeout,
			RateLimit:    cfg.RateLimit,
			RateBurst:    cfg.RateBurst,
		},
	}, logger)
	if err := srv.Start(); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	srv.Stop()
}
