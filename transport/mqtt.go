package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/pkg/buffer"
)

// MQTTProfile opens channels against a broker, publishing and
// subscribing on settings.QueueName. Used for both mqtt-uadp and
// mqtt-json; the encoding distinction lives in the codec layer, not
// here — this profile only moves bytes.
type MQTTProfile struct{}

func (p *MQTTProfile) Open(ctx context.Context, settings Settings) (Channel, error) {
	if settings.MQTTBroker == "" {
		return nil, errors.Wrap(fmt.Errorf("mqtt transport requires Settings.MQTTBroker"),
			errors.KindInvalidArgument, "MQTTProfile", "Open")
	}

	recvBuf, err := buffer.NewCircularBuffer[[]byte](2048, buffer.WithOverflowPolicy[[]byte](buffer.DropOldest))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternalError, "MQTTProfile", "Open")
	}

	ch := &mqttChannel{recvBuf: recvBuf}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(settings.MQTTBroker)
	opts.SetClientID(settings.MQTTClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		ch.mu.Lock()
		ch.connected = true
		ch.mu.Unlock()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, _ error) {
		ch.mu.Lock()
		ch.connected = false
		ch.mu.Unlock()
	}

	ch.client = mqtt.NewClient(opts)

	token := ch.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, errors.Wrap(fmt.Errorf("mqtt connect timeout"), errors.KindConnectionClosed, "MQTTProfile", "Open")
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrap(err, errors.KindConnectionClosed, "MQTTProfile", "Open")
	}

	if settings.QueueName != "" {
		if err := ch.Subscribe(ctx, settings.QueueName); err != nil {
			ch.client.Disconnect(250)
			return nil, err
		}
	}

	return ch, nil
}

// mqttChannel implements Channel over one paho client connection.
type mqttChannel struct {
	client mqtt.Client

	mu        sync.Mutex
	connected bool
	topic     string

	recvBuf buffer.Buffer[[]byte]
}

func (c *mqttChannel) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	topic := c.topic
	c.mu.Unlock()

	if topic == "" {
		return errors.Wrap(fmt.Errorf("mqtt channel has no topic bound"), errors.KindConfigurationErr, "mqttChannel", "Send")
	}

	token := c.client.Publish(topic, 0, false, frame)
	if !token.WaitTimeout(2 * time.Second) {
		return errors.Wrap(fmt.Errorf("publish timeout"), errors.KindConnectionClosed, "mqttChannel", "Send")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, errors.KindConnectionClosed, "mqttChannel", "Send")
	}
	return nil
}

func (c *mqttChannel) Recv(ctx context.Context) ([]byte, error) {
	for {
		if item, ok := c.recvBuf.Read(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (c *mqttChannel) Subscribe(_ context.Context, topic string) error {
	token := c.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())
		_ = c.recvBuf.Write(payload)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return errors.Wrap(fmt.Errorf("subscribe timeout"), errors.KindConnectionClosed, "mqttChannel", "Subscribe")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, errors.KindConnectionClosed, "mqttChannel", "Subscribe")
	}

	c.mu.Lock()
	c.topic = topic
	c.mu.Unlock()
	return nil
}

func (c *mqttChannel) Close() error {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return c.recvBuf.Close()
}
