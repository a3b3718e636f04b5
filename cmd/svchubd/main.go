// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// svchubd hosts hub services on a Unix socket. The services to run,
// the socket path, and the per-request limits come from a YAML
// config file (SVCHUB_CONFIG or --config).
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/svchub/svchub/hub"
	"github.com/svchub/svchub/lib/cli"
	"github.com/svchub/svchub/lib/config"
	"github.com/svchub/svchub/lib/process"
	"github.com/svchub/svchub/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to the config file (defaults to $SVCHUB_CONFIG)")
	pflag.Parse()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := cli.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := cli.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return err
	}

	readTimeout, _ := cfg.ReadTimeout()
	writeTimeout, _ := cfg.WriteTimeout()
	server := transport.NewServer(cfg.SocketPath, transport.Limits{
		MaxRequestSize: int64(cfg.Limits.MaxRequestSize),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
	}, logger)

	var services []*hub.Service
	var workers workerGroup
	for _, serviceConfig := range cfg.Services {
		options := []hub.Option{hub.WithLogger(logger)}
		if serviceConfig.Notifications != nil && !*serviceConfig.Notifications {
			options = append(options,
				hub.WithoutAttachNotification(),
				hub.WithoutDetachNotification(),
			)
		}
		service := hub.New(serviceConfig.Name, options...)
		server.Register(service)
		services = append(services, service)

		count := serviceConfig.Workers
		if count == 0 {
			count = 1
		}
		workers.startEcho(service, count, logger)
		logger.Info("service hosted",
			"service", serviceConfig.Name,
			"kind", serviceConfig.Kind,
			"workers", count,
		)
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	logger.Info("svchubd running", "socket", cfg.SocketPath, "services", len(services))

	<-ctx.Done()
	logger.Info("shutting down")

	// Serve drains in-flight requests first; canceling the services
	// after that releases the worker loops.
	err = <-serveDone
	for _, service := range services {
		service.Cancel()
	}
	workers.wait()
	return err
}
