// Package config provides 12-factor configuration for the coordinator and the
// device simulators.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags override individual values in each binary's main.
//
// Configuration Sections:
//   - CSE: tinyIoT host, port, CSE-ID and root resource name
//   - HTTP: timeouts, oneM2M release version, container limits
//   - MQTT: broker address, topic prefix, response timeout
//   - Telemetry: sampling interval, retry wait, failure threshold, jitter
//   - Supervisor: executables, health polling, termination waits
//   - Logging, Metrics
//
// The simulator fleet itself (which sensors, which protocol) is read from a
// YAML or TOML file named by FLEET_FILE:
//
//	sensors:
//	  - sensor: temp
//	    protocol: mqtt
//	    mode: csv
//	    frequency: 3
//	    registration: 1
//	env:
//	  DATA_DIR: /srv/tinyiot/data
//
// Example Usage:
//
//	cfg, err := config.Load()
//	fleet, err := config.LoadFleet(cfg.Supervisor.FleetFile)
package config
