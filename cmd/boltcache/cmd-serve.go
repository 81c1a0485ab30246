package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/you112ef/boltcache/config"
)

type serveCmd struct {
	Args []string `arg:"" optional:"" help:"Configuration flags, e.g. -config.file=boltcache.yaml -cache.max-size=100MiB."`
}

func (cmd *serveCmd) Run() error {
	cfg, err := loadConfig(cmd.Args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// loadConfig layers defaults, the config file and flags, resolves
// credentials and validates the result.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.LoadArgs(appName, args, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed parsing config: %w", err)
	}
	if err := cfg.ResolveSecrets(context.Background(), nil); err != nil {
		return nil, fmt.Errorf("failed resolving secrets: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
