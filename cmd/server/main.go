package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amalg/bomberman-arena/internal/config"
	"github.com/amalg/bomberman-arena/internal/discovery"
	"github.com/amalg/bomberman-arena/internal/logger"
	"github.com/amalg/bomberman-arena/internal/network"
	"github.com/amalg/bomberman-arena/internal/session"
	"github.com/amalg/bomberman-arena/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, out)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server stopped")
		os.Exit(1)
	}
}

func run(cfg config.Config, root *logrus.Logger) error {
	log := logger.Component(root, "main")
	base := logrus.NewEntry(root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	for _, players := range cfg.Lobbies {
		id, err := st.CreateLobby(ctx, len(players), players)
		if err != nil {
			return fmt.Errorf("create lobby: %w", err)
		}
		log.WithField("lobby_id", id).Infof("Lobby created for %v", players)
	}

	coord := session.NewCoordinator(cfg.Session(), st, st, st, base)
	srv := network.NewServer(cfg.Addr, coord, network.QueryAuthenticator{}, base)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	addrs := discovery.LocalAddrs(port)
	log.Infof("💣 Bomberman server on port %d", port)
	for _, a := range addrs {
		log.Infof("  players can connect to %s", a)
	}

	if cfg.Discovery {
		// Prefer a LAN address over loopback.
		info := discovery.ServerInfo{Name: cfg.Name, Addr: addrs[len(addrs)-1]}
		b := discovery.NewBroadcaster(info, cfg.DiscoveryPort, coord.Stats, base)
		if err := b.Start(); err != nil {
			log.WithError(err).Warn("LAN discovery disabled")
		} else {
			defer b.Stop()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = coord.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Sessions did not stop in time")
	}
	log.Info("Done.")
	return nil
}
