// Package logging provides structured logging using uber/zap.
//
// Two output modes:
//   - Production: JSON output for the coordinator when shipped to a collector
//   - Console: plain line-oriented output; simulators always use it because
//     the coordinator reads their stdout line by line looking for readiness
//     markers
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Starting simulator", zap.String("sensor", "temp"))
//	logger.Error("Send failed", zap.Error(err))
package logging
