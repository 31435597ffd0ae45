package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/onem2m"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/shared/id"
)

const transportName = "http"

// Options configures a Transport.
type Options struct {
	// BaseURL is scheme://host:port of the CSE.
	BaseURL string
	// CSE is the root resource name, e.g. TinyIoT.
	CSE string
	// Origin is sent on creates; AdminOrigin on existence checks.
	Origin      string
	AdminOrigin string

	ReleaseVersion  string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	RateLimit       float64
	VerifyOnTimeout bool
	MaxInstances    int
	MaxByteSize     int
}

// OptionsFromConfig builds Options for a sensor with the given origin.
func OptionsFromConfig(cfg *config.Config, origin string) Options {
	return Options{
		BaseURL:         cfg.CSE.BaseURL(),
		CSE:             cfg.CSE.ResourceName,
		Origin:          origin,
		AdminOrigin:     cfg.HTTP.AdminOrigin,
		ReleaseVersion:  cfg.HTTP.ReleaseVersion,
		ConnectTimeout:  cfg.HTTP.ConnectTimeout,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		RateLimit:       cfg.HTTP.RateLimit,
		VerifyOnTimeout: cfg.HTTP.VerifyOnTimeout,
		MaxInstances:    cfg.HTTP.MaxInstances,
		MaxByteSize:     cfg.HTTP.MaxByteSize,
	}
}

// Transport is the HTTP binding of onem2m.ResourceClient.
type Transport struct {
	opts    Options
	resty   *resty.Client
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

var _ onem2m.ResourceClient = (*Transport)(nil)

// New creates an HTTP transport. logger and metrics may be nil.
func New(opts Options, logger *logging.Logger, metrics *monitoring.Metrics) *Transport {
	if opts.AdminOrigin == "" {
		opts.AdminOrigin = "CAdmin"
	}
	if opts.Origin == "" {
		opts.Origin = opts.AdminOrigin
	}
	if opts.ReleaseVersion == "" {
		opts.ReleaseVersion = onem2m.ReleaseVersion
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	if logger == nil {
		logger = logging.NewNop()
	}

	// Pooled transport from retryablehttp; retries stay with the caller.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil
	transport := retryClient.HTTPClient.Transport
	if ht, ok := transport.(*http.Transport); ok {
		ht.DialContext = (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}

	restyClient := resty.New()
	restyClient.
		SetTimeout(opts.RequestTimeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("X-M2M-RVI", opts.ReleaseVersion).
		SetJSONMarshaler(onem2m.Marshal).
		SetJSONUnmarshaler(onem2m.Unmarshal)
	restyClient.SetTransport(transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Transport{
		opts:    opts,
		resty:   restyClient,
		limiter: limiter,
		logger:  logger.Named("http"),
		metrics: metrics,
	}
}

// EnsureApplicationEntity retrieves the AE and creates it when missing.
func (t *Transport) EnsureApplicationEntity(ctx context.Context, name string) (err error) {
	timer := monitoring.NewTimer(t.metrics, transportName, onem2m.TypeApplicationEntity.String())
	defer func() { timer.Stop(onem2m.Kind(err)) }()

	path := onem2m.Path{CSE: t.opts.CSE, AE: name}
	if t.exists(ctx, path) {
		t.logger.Info("AE already exists", zap.String("ae", name))
		return nil
	}

	body := onem2m.AEBody(onem2m.ApplicationEntity{
		ResourceName:     name,
		AppID:            onem2m.AppID(name),
		RequestReachable: true,
	})
	return t.create(ctx, path.Parent(), onem2m.TypeApplicationEntity, body)
}

// EnsureContainer retrieves the container and creates it when missing.
func (t *Transport) EnsureContainer(ctx context.Context, ae, name string) (err error) {
	timer := monitoring.NewTimer(t.metrics, transportName, onem2m.TypeContainer.String())
	defer func() { timer.Stop(onem2m.Kind(err)) }()

	path := onem2m.Path{CSE: t.opts.CSE, AE: ae, Container: name}
	if t.exists(ctx, path) {
		t.logger.Info("container already exists", zap.String("ae", ae), zap.String("cnt", name))
		return nil
	}

	body := onem2m.ContainerBody(onem2m.Container{
		ResourceName: name,
		MaxInstances: t.opts.MaxInstances,
		MaxByteSize:  t.opts.MaxByteSize,
	})
	return t.create(ctx, path.Parent(), onem2m.TypeContainer, body)
}

// SendDataPoint posts one content instance. A timed-out post is checked
// against the container's latest instance when VerifyOnTimeout is set.
func (t *Transport) SendDataPoint(ctx context.Context, ae, container, value string) (err error) {
	timer := monitoring.NewTimer(t.metrics, transportName, onem2m.TypeContentInstance.String())
	defer func() { timer.Stop(onem2m.Kind(err)) }()

	path := onem2m.Path{CSE: t.opts.CSE, AE: ae, Container: container}
	err = t.create(ctx, path, onem2m.TypeContentInstance, onem2m.ContentBody(value))
	if err == nil || !errors.Is(err, onem2m.ErrTimeout) || !t.opts.VerifyOnTimeout {
		return err
	}

	if latest, ok := t.latest(ctx, path); ok && latest == value {
		t.logger.Warn("post timed out but latest instance matches",
			zap.String("target", path.String()),
			zap.String("value", value),
		)
		return nil
	}
	return err
}

// Probe checks that the CSE accepts TCP connections.
func (t *Transport) Probe(ctx context.Context) error {
	u, err := url.Parse(t.opts.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", t.opts.BaseURL, err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}

	dialer := net.Dialer{Timeout: t.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", onem2m.ErrUnreachable, host, err)
	}
	return conn.Close()
}

// Close releases idle connections.
func (t *Transport) Close() error {
	if ht, ok := t.resty.GetClient().Transport.(*http.Transport); ok {
		ht.CloseIdleConnections()
	}
	return nil
}

func (t *Transport) url(path onem2m.Path) string {
	return t.opts.BaseURL + "/" + path.String()
}

func (t *Transport) request(ctx context.Context, origin string) (*resty.Request, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	return t.resty.R().
		SetContext(ctx).
		SetHeader("X-M2M-Origin", origin).
		SetHeader("X-M2M-RI", id.NewResourceRequestID().String()), nil
}

func (t *Transport) exists(ctx context.Context, path onem2m.Path) bool {
	target := t.url(path)
	req, err := t.request(ctx, t.opts.AdminOrigin)
	if err != nil {
		return false
	}

	resp, err := req.Get(target)
	if err != nil {
		t.logger.Debug("existence check failed", zap.String("url", target), zap.Error(err))
		return false
	}
	t.logger.Debug("existence check", zap.String("url", target), zap.Int("status", resp.StatusCode()))
	return resp.StatusCode() == http.StatusOK
}

func (t *Transport) create(ctx context.Context, parent onem2m.Path, ty onem2m.ResourceType, body any) error {
	target := t.url(parent)
	req, err := t.request(ctx, t.opts.Origin)
	if err != nil {
		return err
	}

	t.logger.Debug("POST", zap.String("url", target), zap.String("ty", ty.String()), zap.Any("body", body))

	resp, err := req.
		SetHeader("Content-Type", fmt.Sprintf("application/json;ty=%d", ty)).
		SetBody(body).
		Post(target)
	if err != nil {
		err = classify(ctx, err)
		t.logger.Warn("POST failed", zap.String("url", target), zap.Error(err))
		return err
	}

	status := resp.StatusCode()
	text := resp.String()
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		t.logger.Debug("POST accepted", zap.String("url", target), zap.Int("status", status), zap.String("response", text))
		return nil
	case ty != onem2m.TypeContentInstance && isDuplicate(status, text):
		t.logger.Info("resource already exists, proceeding", zap.String("url", target), zap.String("ty", ty.String()))
		return nil
	}

	t.logger.Error("POST rejected", zap.String("url", target), zap.Int("status", status), zap.String("response", text))
	return onem2m.Reject("create "+ty.String(), status, text)
}

// isDuplicate reports a create refused because the resource already exists.
// Only AE and container creates treat it as success.
func isDuplicate(status int, text string) bool {
	return (status == http.StatusForbidden || status == http.StatusConflict) &&
		strings.Contains(strings.ToLower(text), "duplicat")
}

func (t *Transport) latest(ctx context.Context, cnt onem2m.Path) (string, bool) {
	target := t.url(cnt) + "/la"
	req, err := t.request(ctx, t.opts.AdminOrigin)
	if err != nil {
		return "", false
	}

	resp, err := req.Get(target)
	if err != nil || resp.StatusCode() != http.StatusOK {
		return "", false
	}
	return onem2m.LatestContent(resp.Body())
}

// classify maps a client error onto the onem2m sentinels.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", onem2m.ErrUnreachable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", onem2m.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", onem2m.ErrUnreachable, err)
}
