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
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/simulator"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	sensorName := fs.String("sensor", "", "sensor name: temp, humid, co2, soil or a custom name")
	protocol := fs.String("protocol", simulator.ProtocolMQTT, "transport binding: http or mqtt")
	mode := fs.String("mode", simulator.ModeCSV, "data source: csv or random")
	frequency := fs.Float64("frequency", 0, "seconds between sends; 0 uses DATA_SEND_INTERVAL")
	registration := fs.Int("registration", 1, "1 creates the AE and container first, 0 assumes they exist")
	csvPath := fs.String("csv", "", "CSV file overriding the sensor's default under DATA_DIR")
	seed := fs.Uint64("seed", 0, "random source seed; 0 picks one from the clock")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address")
	logLevel := fs.String("log-level", "", "log level, overrides LOG_LEVEL")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *registration != 0 && *registration != 1 {
		fmt.Fprintln(os.Stderr, "[ERROR] --registration must be 0 or 1")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to load configuration: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := logging.New(logging.ConsoleConfig(cfg.Logging.Level))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	if *metricsAddr != "" {
		mcfg := cfg.Metrics
		mcfg.Addr = *metricsAddr
		srv := server.New(mcfg, metrics, nil, logger, cfg.Logging.Development)
		if err := srv.Start(); err != nil {
			logger.Error("Failed to start metrics server", zap.String("addr", *metricsAddr), zap.Error(err))
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	opts := simulator.Options{
		Sensor:       *sensorName,
		Protocol:     *protocol,
		Mode:         *mode,
		Frequency:    simulator.FrequencyFromSeconds(*frequency),
		Registration: *registration == 1,
		CSVPath:      *csvPath,
		Seed:         *seed,
	}

	return simulator.New(cfg, opts, os.Stdout, logger).WithMetrics(metrics).Run(ctx)
}
