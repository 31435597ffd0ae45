package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/server"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/supervisor"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	fs := pflag.NewFlagSet("coordinator", pflag.ContinueOnError)
	fs.StringVar(&cfg.Supervisor.FleetFile, "fleet", cfg.Supervisor.FleetFile, "fleet file (.yaml, .yml or .toml); empty runs the built-in four sensors")
	fs.StringVar(&cfg.Supervisor.ServerExec, "server-exec", cfg.Supervisor.ServerExec, "tinyIoT server executable")
	fs.StringSliceVar(&cfg.Supervisor.ServerArgs, "server-arg", cfg.Supervisor.ServerArgs, "argument passed to the server (repeatable)")
	fs.StringVar(&cfg.Supervisor.SimulatorExec, "simulator-exec", cfg.Supervisor.SimulatorExec, "simulator executable")
	fs.StringSliceVar(&cfg.Supervisor.SimulatorArgs, "simulator-arg", cfg.Supervisor.SimulatorArgs, "argument placed before the per-sensor flags (repeatable)")
	fs.DurationVar(&cfg.Supervisor.HealthTimeout, "wait-server", cfg.Supervisor.HealthTimeout, "how long to wait for the server to answer")
	fs.DurationVar(&cfg.Supervisor.ReadyTimeout, "ready-timeout", cfg.Supervisor.ReadyTimeout, "how long each simulator may take to become ready; 0 waits forever")
	fs.DurationVar(&cfg.Supervisor.PollInterval, "poll", cfg.Supervisor.PollInterval, "liveness poll interval")
	fs.BoolVar(&cfg.Supervisor.UsePTY, "pty", cfg.Supervisor.UsePTY, "run simulators behind a pseudo-terminal")
	fs.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "serve /metrics and /fleet on this address")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 2
	}

	logger, err := logging.New(logging.CoordinatorConfig(cfg.Logging.Level, cfg.Logging.Development))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	fleetCfg, err := config.LoadFleet(cfg.Supervisor.FleetFile)
	if err != nil {
		logger.Error("Failed to load fleet", zap.String("file", cfg.Supervisor.FleetFile), zap.Error(err))
		return 1
	}

	logger.Info("Starting coordinator",
		zap.String("server", cfg.Supervisor.ServerExec),
		zap.String("simulator", cfg.Supervisor.SimulatorExec),
		zap.Strings("sensors", fleetCfg.Names()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	health := supervisor.NewHealthChecker(cfg.CSE.HealthEndpoint(), cfg.Supervisor.HealthRequestTimeout, logger)
	launcher := supervisor.ExecLauncher{UsePTY: cfg.Supervisor.UsePTY}
	fleet := supervisor.New(supervisor.OptionsFromConfig(cfg, fleetCfg), launcher, health, logger).WithMetrics(metrics)

	if cfg.Metrics.Addr != "" {
		srv := server.New(cfg.Metrics, metrics, func() any { return fleet.Status() }, logger, cfg.Logging.Development)
		if err := srv.Start(); err != nil {
			logger.Error("Failed to start status server", zap.String("addr", cfg.Metrics.Addr), zap.Error(err))
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	return fleet.Run(ctx).ExitCode
}
