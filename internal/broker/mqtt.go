package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Arrow-air/svc-telemetry/internal/backend"
	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

// MQTTPublisher publishes to an MQTT broker. paho reconnects on its own;
// while the link is down publishes fail instead of queueing.
type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *logger.Logger
}

func NewMQTTPublisher(broker, clientID string, qos byte, timeout time.Duration, log *logger.Logger) *MQTTPublisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(timeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to mqtt broker", "broker", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("lost mqtt connection", "broker", broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	// with ConnectRetry the token only completes once connected
	client.Connect()

	return &MQTTPublisher{client: client, qos: qos, timeout: timeout, logger: log}
}

func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("%w: mqtt: not connected", backend.ErrBackendUnavailable)
	}

	token := p.client.Publish(msg.Topic, p.qos, false, msg.Body)

	wait := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = min(wait, time.Until(deadline))
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("%w: mqtt: publish timed out", backend.ErrBackendUnavailable)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("mqtt publish failed", "topic", msg.Topic, "error", err)
		return fmt.Errorf("%w: mqtt: %v", backend.ErrBackendUnavailable, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
