package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/infrastructure/logging"
	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/shared/id"
)

var errTokenTimeout = errors.New("broker did not acknowledge in time")

// MessageHandler receives every message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Broker is the part of an MQTT client the transport uses.
type Broker interface {
	Publish(topic string, qos byte, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Disconnect(quiesce time.Duration)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// pahoBroker adapts a paho client to Broker.
type pahoBroker struct {
	client  paho.Client
	timeout time.Duration
	logger  *logging.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// DialBroker connects to the broker described by opts.
func DialBroker(opts Options, logger *logging.Logger) (Broker, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &pahoBroker{
		timeout: opts.ConnectTimeout,
		logger:  logger.Named("broker"),
		subs:    make(map[string]subscription),
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(id.NewClientID(opts.Origin)).
		SetKeepAlive(opts.KeepAlive).
		SetConnectTimeout(opts.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			b.logger.Warn("connection lost", zap.Error(err))
		})

	b.client = paho.NewClient(clientOpts)
	token := b.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, errTokenTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.BrokerURL, err)
	}

	b.logger.Info("connected", zap.String("broker", opts.BrokerURL))
	return b, nil
}

func (b *pahoBroker) Publish(topic string, qos byte, payload []byte) error {
	return b.wait(b.client.Publish(topic, qos, false, payload))
}

func (b *pahoBroker) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := b.wait(b.client.Subscribe(topic, qos, wrap(handler))); err != nil {
		return err
	}
	b.mu.Lock()
	b.subs[topic] = subscription{qos: qos, handler: handler}
	b.mu.Unlock()
	return nil
}

func (b *pahoBroker) Disconnect(quiesce time.Duration) {
	b.client.Disconnect(uint(quiesce.Milliseconds()))
}

// onConnect restores subscriptions after an automatic reconnect.
func (b *pahoBroker) onConnect(c paho.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, sub := range b.subs {
		c.Subscribe(topic, sub.qos, wrap(sub.handler))
		b.logger.Info("resubscribed", zap.String("topic", topic))
	}
}

func (b *pahoBroker) wait(token paho.Token) error {
	if !token.WaitTimeout(b.timeout) {
		return errTokenTimeout
	}
	return token.Error()
}

func wrap(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}
