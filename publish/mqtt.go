package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// disconnectQuiesce is how long Close waits for in-flight work, in milliseconds.
const disconnectQuiesce = 250

type MQTTConfig struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	QoS           byte
	Retain        bool
	Timeout       time.Duration
	AutoReconnect bool
}

// MQTTPublisher owns one broker connection for the lifetime of the process.
type MQTTPublisher struct {
	client mqtt.Client
	config MQTTConfig
	logger *slog.Logger
}

var _ Publisher = (*MQTTPublisher)(nil)

// ConnectMQTT dials the broker and blocks until the session is established.
func ConnectMQTT(ctx context.Context, config MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if config.ClientID == "" {
		config.ClientID = "aihl-" + uuid.NewString()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetConnectTimeout(config.Timeout).
		SetWriteTimeout(config.Timeout).
		SetAutoReconnect(config.AutoReconnect).
		SetConnectRetry(false).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("Connected to MQTT Broker", slog.String("broker", config.BrokerURL))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", slog.String("error", err.Error()))
		}).
		SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
			logger.Info("Reconnecting to MQTT Broker", slog.String("broker", config.BrokerURL))
		})
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), config.Timeout); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, config.BrokerURL, err)
	}

	return &MQTTPublisher{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Publish sends payload and waits for the broker to accept it. Cancelling ctx
// does not abandon a message already handed to the client; only the publish
// timeout bounds the wait.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.config.QoS, p.config.Retain, payload)
	if err := wait(context.WithoutCancel(ctx), token, p.config.Timeout); err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrPublish, topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
	p.logger.Info("Disconnected from MQTT Broker")
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
