package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
)

var (
	// ErrServerUnhealthy is returned when the health timeout elapses.
	ErrServerUnhealthy = errors.New("server did not become healthy")
	// ErrServerExited is returned when the server exits before it is healthy.
	ErrServerExited = errors.New("server exited")
)

// HealthChecker polls the CSE root resource.
type HealthChecker struct {
	url    string
	client *resty.Client
	logger *logging.Logger
}

// NewHealthChecker creates a checker for url with a per-request timeout.
func NewHealthChecker(url string, requestTimeout time.Duration, logger *logging.Logger) *HealthChecker {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(0).
		SetHeader("X-M2M-Origin", "CAdmin").
		SetHeader("X-M2M-RVI", "3").
		SetHeader("X-M2M-RI", "healthcheck").
		SetHeader("Accept", "application/json")

	return &HealthChecker{url: url, client: client, logger: logger.Named("health")}
}

// URL is the polled endpoint.
func (h *HealthChecker) URL() string {
	return h.url
}

// Check performs one request; only 200 counts as healthy.
func (h *HealthChecker) Check(ctx context.Context) error {
	resp, err := h.client.R().SetContext(ctx).Get(h.url)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("health endpoint answered %d", resp.StatusCode())
	}
	return nil
}

// WaitHealthy polls every interval until the server answers, timeout
// elapses, exited is closed, or ctx is done.
func (h *HealthChecker) WaitHealthy(ctx context.Context, timeout, interval time.Duration, exited <-chan struct{}) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := h.Check(ctx)
		if err == nil {
			h.logger.Info("tinyIoT server is responsive", zap.String("url", h.url))
			return nil
		}
		h.logger.Debug("server not ready", zap.String("url", h.url), zap.Error(err))

		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("%w within %s", ErrServerUnhealthy, timeout)
		case <-exited:
			return ErrServerExited
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
