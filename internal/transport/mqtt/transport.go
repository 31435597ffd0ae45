package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/config"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/monitoring"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/onem2m"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/shared/id"
)

const (
	transportName   = "mqtt"
	disconnectGrace = 250 * time.Millisecond
)

// Options configures a Transport.
type Options struct {
	BrokerURL string
	// Origin is the originator, also the second topic level.
	Origin string
	// CSEID is the CSE-ID used as the third topic level.
	CSEID string
	// CSE is the root resource name used in "to".
	CSE         string
	TopicPrefix string

	ResponseTimeout time.Duration
	ConnectTimeout  time.Duration
	KeepAlive       time.Duration
	QoS             byte
	MaxInstances    int
	MaxByteSize     int
}

// OptionsFromConfig builds Options for a sensor with the given origin.
func OptionsFromConfig(cfg *config.Config, origin string) Options {
	return Options{
		BrokerURL:       cfg.MQTT.BrokerURL(),
		Origin:          origin,
		CSEID:           cfg.CSE.Name,
		CSE:             cfg.CSE.ResourceName,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		ResponseTimeout: cfg.MQTT.ResponseTimeout,
		ConnectTimeout:  cfg.MQTT.ConnectTimeout,
		KeepAlive:       cfg.MQTT.KeepAlive,
		QoS:             cfg.MQTT.QoS,
		MaxInstances:    cfg.HTTP.MaxInstances,
		MaxByteSize:     cfg.HTTP.MaxByteSize,
	}
}

// RequestTopic is where requests from origin to cse are published.
func RequestTopic(prefix, origin, cse string) string {
	return fmt.Sprintf("%s/req/%s/%s/json", strings.TrimRight(prefix, "/"), origin, cse)
}

// ResponseTopic is where the CSE answers origin.
func ResponseTopic(prefix, origin, cse string) string {
	return fmt.Sprintf("%s/resp/%s/%s/json", strings.TrimRight(prefix, "/"), origin, cse)
}

// Transport is the MQTT binding of onem2m.ResourceClient. Each call
// publishes one request and waits for the response carrying its rqi.
type Transport struct {
	opts      Options
	broker    Broker
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	reqTopic  string
	respTopic string

	mu      sync.Mutex
	pending map[string]chan *onem2m.Response
	closed  bool
}

var _ onem2m.ResourceClient = (*Transport)(nil)

// Dial connects to the broker and subscribes to the response topic.
func Dial(opts Options, logger *logging.Logger, metrics *monitoring.Metrics) (*Transport, error) {
	opts = withDefaults(opts)
	broker, err := DialBroker(opts, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", onem2m.ErrUnreachable, err)
	}
	t, err := NewWithBroker(broker, opts, logger, metrics)
	if err != nil {
		broker.Disconnect(0)
		return nil, err
	}
	return t, nil
}

// NewWithBroker builds a Transport on an already connected broker.
func NewWithBroker(broker Broker, opts Options, logger *logging.Logger, metrics *monitoring.Metrics) (*Transport, error) {
	opts = withDefaults(opts)
	if logger == nil {
		logger = logging.NewNop()
	}

	t := &Transport{
		opts:      opts,
		broker:    broker,
		logger:    logger.Named("mqtt"),
		metrics:   metrics,
		reqTopic:  RequestTopic(opts.TopicPrefix, opts.Origin, opts.CSEID),
		respTopic: ResponseTopic(opts.TopicPrefix, opts.Origin, opts.CSEID),
		pending:   make(map[string]chan *onem2m.Response),
	}

	if err := broker.Subscribe(t.respTopic, opts.QoS, t.deliver); err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", onem2m.ErrUnreachable, t.respTopic, err)
	}
	t.logger.Info("subscribed", zap.String("topic", t.respTopic))
	return t, nil
}

func withDefaults(opts Options) Options {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "/oneM2M"
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 5 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 60 * time.Second
	}
	if opts.CSE == "" {
		opts.CSE = opts.CSEID
	}
	return opts
}

// EnsureApplicationEntity creates the AE; "already exists" counts as success.
func (t *Transport) EnsureApplicationEntity(ctx context.Context, name string) error {
	body := onem2m.AEBody(onem2m.ApplicationEntity{
		ResourceName:     name,
		AppID:            onem2m.AppID(name),
		RequestReachable: true,
	})
	return t.create(ctx, onem2m.Path{CSE: t.opts.CSE}, onem2m.TypeApplicationEntity, body, onem2m.AcceptIdempotentCreate)
}

// EnsureContainer creates the container under ae; "already exists" counts as success.
func (t *Transport) EnsureContainer(ctx context.Context, ae, name string) error {
	body := onem2m.ContainerBody(onem2m.Container{
		ResourceName: name,
		MaxInstances: t.opts.MaxInstances,
		MaxByteSize:  t.opts.MaxByteSize,
	})
	return t.create(ctx, onem2m.Path{CSE: t.opts.CSE, AE: ae}, onem2m.TypeContainer, body, onem2m.AcceptIdempotentCreate)
}

// SendDataPoint creates one content instance.
func (t *Transport) SendDataPoint(ctx context.Context, ae, container, value string) error {
	to := onem2m.Path{CSE: t.opts.CSE, AE: ae, Container: container}
	return t.create(ctx, to, onem2m.TypeContentInstance, onem2m.ContentBody(value), onem2m.AcceptDataPoint)
}

// Close disconnects and releases every waiting call with onem2m.ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for rqi, ch := range t.pending {
		close(ch)
		delete(t.pending, rqi)
	}
	t.mu.Unlock()

	t.broker.Disconnect(disconnectGrace)
	t.logger.Info("disconnected")
	return nil
}

func (t *Transport) create(ctx context.Context, to onem2m.Path, ty onem2m.ResourceType, pc any, accepted onem2m.ResultSet) (err error) {
	timer := monitoring.NewTimer(t.metrics, transportName, ty.String())
	defer func() { timer.Stop(onem2m.Kind(err)) }()

	req := onem2m.Request{
		From:      t.opts.Origin,
		To:        to.String(),
		Operation: onem2m.OpCreate,
		Type:      ty,
		Content:   pc,
		Version:   onem2m.ReleaseVersion,
	}
	rsp, err := t.exchange(ctx, req)
	if err != nil {
		return err
	}

	op := "create " + ty.String()
	if !accepted.Contains(rsp.Code) {
		t.logger.Error("request rejected",
			zap.String("op", op),
			zap.String("to", req.To),
			zap.Int("rsc", int(rsp.Code)),
			zap.ByteString("pc", rsp.Content),
		)
		return onem2m.Reject(op, int(rsp.Code), string(rsp.Content))
	}
	if rsp.Code == onem2m.RSCConflict {
		t.logger.Info("already exists, proceeding", zap.String("op", op), zap.String("to", req.To))
	}
	return nil
}

// exchange publishes req under a fresh rqi and waits for its response,
// the response timeout, or ctx.
func (t *Transport) exchange(ctx context.Context, req onem2m.Request) (*onem2m.Response, error) {
	req.RequestID = id.NewRequestID().String()
	ch := make(chan *onem2m.Response, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, onem2m.ErrClosed
	}
	t.pending[req.RequestID] = ch
	t.mu.Unlock()
	defer t.forget(req.RequestID)

	payload, err := onem2m.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	t.logger.Debug("SEND", zap.String("topic", t.reqTopic), zap.ByteString("payload", payload))
	if err := t.broker.Publish(t.reqTopic, t.opts.QoS, payload); err != nil {
		return nil, fmt.Errorf("%w: publish %s: %v", onem2m.ErrUnreachable, t.reqTopic, err)
	}

	timeout := time.NewTimer(t.opts.ResponseTimeout)
	defer timeout.Stop()

	select {
	case rsp, ok := <-ch:
		if !ok {
			return nil, onem2m.ErrClosed
		}
		return rsp, nil
	case <-timeout.C:
		t.logger.Error("no response within timeout",
			zap.String("rqi", req.RequestID),
			zap.Duration("timeout", t.opts.ResponseTimeout),
		)
		return nil, fmt.Errorf("%w: rqi=%s after %s", onem2m.ErrTimeout, req.RequestID, t.opts.ResponseTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) forget(rqi string) {
	t.mu.Lock()
	delete(t.pending, rqi)
	t.mu.Unlock()
}

// deliver runs on the broker's delivery goroutine and must not block.
func (t *Transport) deliver(topic string, payload []byte) {
	t.logger.Debug("RECV", zap.String("topic", topic), zap.ByteString("payload", payload))

	rsp, err := onem2m.DecodeResponse(payload)
	if err != nil {
		t.logger.Warn("dropping undecodable response", zap.String("topic", topic), zap.Error(err))
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[rsp.RequestID]
	if ok {
		delete(t.pending, rsp.RequestID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("dropping response for unknown request", zap.String("rqi", rsp.RequestID), zap.Int("rsc", int(rsp.Code)))
		return
	}
	ch <- rsp
}
