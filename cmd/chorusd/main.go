// ABOUTME: Entry point for the Chorus co-listening server
// ABOUTME: Parses CLI flags, loads config, and runs until signalled
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chorus-fm/chorus/internal/config"
	"github.com/chorus-fm/chorus/internal/log"
	"github.com/chorus-fm/chorus/internal/server"
	"github.com/chorus-fm/chorus/internal/version"
)

var (
	port        = flag.Int("port", 0, "HTTP/WebSocket port (overrides PORT)")
	name        = flag.String("name", "", "Server friendly name (default: hostname-chorus)")
	useTUI      = flag.Bool("tui", false, "Run the operator TUI")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *name != "" {
		cfg.ServerName = *name
	}
	if cfg.ServerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.ServerName = fmt.Sprintf("%s-chorus", hostname)
	}

	logger := log.New(cfg.LogLevel)

	srv, err := server.New(cfg, server.Options{UseTUI: *useTUI}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("server init failed")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
