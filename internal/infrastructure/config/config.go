package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration. It is built once in main and
// handed to each component constructor.
type Config struct {
	CSE        CSEConfig
	HTTP       HTTPConfig
	MQTT       MQTTConfig
	Telemetry  TelemetryConfig
	Supervisor SupervisorConfig
	Logging    LogConfig
	Metrics    MetricsConfig
}

// CSEConfig locates the tinyIoT CSE.
type CSEConfig struct {
	Host string `envconfig:"CSE_HOST" default:"127.0.0.1"`
	Port int    `envconfig:"CSE_PORT" default:"3000"`
	// Name is the CSE-ID used in MQTT topics.
	Name string `envconfig:"CSE_NAME" default:"TinyIoT"`
	// ResourceName is the CSE root resource name used in request targets.
	ResourceName string `envconfig:"CSE_RN" default:"TinyIoT"`
	// HealthURL overrides the health endpoint; empty derives it from Host/Port/ResourceName.
	HealthURL string `envconfig:"CSE_URL"`
}

// HTTPConfig holds HTTP binding settings.
type HTTPConfig struct {
	ConnectTimeout  time.Duration `envconfig:"HTTP_CONNECT_TIMEOUT" default:"2s"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"10s"`
	ReleaseVersion  string        `envconfig:"HTTP_RVI" default:"3"`
	AdminOrigin     string        `envconfig:"HTTP_ADMIN_ORIGIN" default:"CAdmin"`
	RateLimit       float64       `envconfig:"HTTP_RATE_LIMIT" default:"0"`
	VerifyOnTimeout bool          `envconfig:"HTTP_VERIFY_ON_TIMEOUT" default:"true"`
	MaxInstances    int           `envconfig:"CNT_MNI" default:"1000"`
	MaxByteSize     int           `envconfig:"CNT_MBS" default:"10485760"`
}

// MQTTConfig holds MQTT binding settings.
type MQTTConfig struct {
	Host            string        `envconfig:"MQTT_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"MQTT_PORT" default:"1883"`
	TopicPrefix     string        `envconfig:"MQTT_TOPIC_PREFIX" default:"/oneM2M"`
	ResponseTimeout time.Duration `envconfig:"MQTT_RESPONSE_TIMEOUT" default:"5s"`
	ConnectTimeout  time.Duration `envconfig:"MQTT_CONNECT_TIMEOUT" default:"5s"`
	KeepAlive       time.Duration `envconfig:"MQTT_KEEPALIVE" default:"60s"`
	QoS             byte          `envconfig:"MQTT_QOS" default:"0"`
}

// TelemetryConfig drives the send loop of each simulator.
type TelemetryConfig struct {
	Frequency        time.Duration `envconfig:"DATA_SEND_INTERVAL" default:"2s"`
	RetryWait        time.Duration `envconfig:"RETRY_WAIT" default:"5s"`
	FailureThreshold int           `envconfig:"SEND_ERROR_THRESHOLD" default:"5"`
	Jitter           time.Duration `envconfig:"JITTER_MAX" default:"300ms"`
	DataDir          string        `envconfig:"DATA_DIR" default:"data"`
}

// SupervisorConfig holds coordinator settings.
type SupervisorConfig struct {
	ServerExec    string   `envconfig:"SERVER_EXEC" default:"./server"`
	ServerArgs    []string `envconfig:"SERVER_ARGS"`
	SimulatorExec string   `envconfig:"SIMULATOR_EXEC" default:"./simulator"`
	// SimulatorArgs are prepended to the per-sensor flags, e.g. a script path.
	SimulatorArgs []string `envconfig:"SIMULATOR_ARGS"`
	FleetFile     string   `envconfig:"FLEET_FILE"`

	HealthTimeout        time.Duration `envconfig:"WAIT_SERVER_TIMEOUT" default:"30s"`
	HealthInterval       time.Duration `envconfig:"HEALTH_INTERVAL" default:"1s"`
	HealthRequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"2s"`
	PollInterval         time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	ReadyTimeout         time.Duration `envconfig:"READY_TIMEOUT" default:"60s"`
	ProcTermWait         time.Duration `envconfig:"PROC_TERM_WAIT" default:"5s"`
	ServerTermWait       time.Duration `envconfig:"SERVER_TERM_WAIT" default:"5s"`
	JoinReaderTimeout    time.Duration `envconfig:"JOIN_READER_TIMEOUT" default:"1s"`
	UsePTY               bool          `envconfig:"USE_PTY" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the coordinator metrics endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /fleet; empty disables it.
	Addr         string   `envconfig:"METRICS_ADDR"`
	RateLimit    float64  `envconfig:"METRICS_RATE_LIMIT" default:"20"`
	Burst        int      `envconfig:"METRICS_BURST" default:"40"`
	AllowOrigins []string `envconfig:"METRICS_ALLOW_ORIGINS" default:"*"`

	// StreamInterval paces /fleet/stream pushes.
	StreamInterval time.Duration `envconfig:"METRICS_STREAM_INTERVAL" default:"1s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		CSE: CSEConfig{
			Host:         "127.0.0.1",
			Port:         3000,
			Name:         "TinyIoT",
			ResourceName: "TinyIoT",
		},
		HTTP: HTTPConfig{
			ConnectTimeout:  2 * time.Second,
			RequestTimeout:  10 * time.Second,
			ReleaseVersion:  "3",
			AdminOrigin:     "CAdmin",
			VerifyOnTimeout: true,
			MaxInstances:    1000,
			MaxByteSize:     10485760,
		},
		MQTT: MQTTConfig{
			Host:            "127.0.0.1",
			Port:            1883,
			TopicPrefix:     "/oneM2M",
			ResponseTimeout: 5 * time.Second,
			ConnectTimeout:  5 * time.Second,
			KeepAlive:       60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Frequency:        2 * time.Second,
			RetryWait:        5 * time.Second,
			FailureThreshold: 5,
			Jitter:           300 * time.Millisecond,
			DataDir:          "data",
		},
		Supervisor: SupervisorConfig{
			ServerExec:           "./server",
			SimulatorExec:        "./simulator",
			HealthTimeout:        30 * time.Second,
			HealthInterval:       time.Second,
			HealthRequestTimeout: 2 * time.Second,
			PollInterval:         5 * time.Second,
			ReadyTimeout:         60 * time.Second,
			ProcTermWait:         5 * time.Second,
			ServerTermWait:       5 * time.Second,
			JoinReaderTimeout:    time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			RateLimit:      20,
			Burst:          40,
			AllowOrigins:   []string{"*"},
			StreamInterval: time.Second,
		},
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.CSE.Host == "" {
		errs = append(errs, errors.New("CSE_HOST must not be empty"))
	}
	if c.CSE.Port <= 0 || c.CSE.Port > 65535 {
		errs = append(errs, fmt.Errorf("CSE_PORT out of range: %d", c.CSE.Port))
	}
	if c.CSE.ResourceName == "" {
		errs = append(errs, errors.New("CSE_RN must not be empty"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("MQTT_PORT out of range: %d", c.MQTT.Port))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2: %d", c.MQTT.QoS))
	}
	if c.MQTT.ResponseTimeout <= 0 {
		errs = append(errs, errors.New("MQTT_RESPONSE_TIMEOUT must be positive"))
	}
	if c.Telemetry.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("SEND_ERROR_THRESHOLD must be at least 1: %d", c.Telemetry.FailureThreshold))
	}
	if c.Telemetry.Jitter < 0 || c.Telemetry.RetryWait < 0 {
		errs = append(errs, errors.New("JITTER_MAX and RETRY_WAIT must not be negative"))
	}
	if c.Supervisor.HealthInterval <= 0 || c.Supervisor.PollInterval <= 0 {
		errs = append(errs, errors.New("HEALTH_INTERVAL and POLL_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// BaseURL is the scheme://host:port prefix of every HTTP request.
func (c CSEConfig) BaseURL() string {
	return "http://" + c.Address()
}

// Address is host:port of the CSE HTTP binding.
func (c CSEConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HealthEndpoint is the URL polled by the coordinator.
func (c CSEConfig) HealthEndpoint() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	return c.BaseURL() + "/" + c.ResourceName
}

// BrokerURL is the paho broker address.
func (c MQTTConfig) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
