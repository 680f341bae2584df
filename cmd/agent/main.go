package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"hostpulse-agent/internal/agent"
	"hostpulse-agent/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hostpulse-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		envFile  string
		once     bool
		logLevel string
	)
	flags := pflag.NewFlagSet("hostpulse-agent", pflag.ContinueOnError)
	flags.StringVar(&envFile, "env-file", "", "dotenv file to load before reading HOSTPULSE_* variables")
	flags.BoolVar(&once, "once", false, "collect one snapshot, print it to stdout as JSON and exit")
	flags.StringVar(&logLevel, "log-level", "", "override HOSTPULSE_LOG_LEVEL (debug, info, warn, error)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = strings.ToLower(logLevel)
	}

	logger := agent.BuildLogger(cfg)
	if once {
		return agent.NewOnce(cfg, logger, os.Stdout).Once(context.Background())
	}

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		return err
	}
	if err := a.Run(context.Background()); err != nil {
		logger.Error("agent runtime failed", "error", err)
		return err
	}
	return nil
}
