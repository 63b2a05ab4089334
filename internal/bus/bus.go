// Package bus adapts the MQTT broker the network runs on. It owns topic
// composition and the connection lifecycle; nothing else in the SDK
// touches the broker directly.
package bus

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/NaeuralEdgeProtocol/go-client/internal/config"
)

// Stream suffixes of the three inbound topics.
const (
	StreamHeartbeats    = "ctrl"
	StreamNotifications = "notif"
	StreamPayloads      = "payloads"
)

const (
	connectTimeout = 30 * time.Second
	publishQoS     = 2
	subscribeQoS   = 1
)

// Handler receives raw frames from a subscription.
type Handler func(topic string, payload []byte)

// InboundTopic builds the shared-subscription topic for one stream. All
// workers of a client subscribe under the same share group, so the
// broker partitions the stream across them. prefix, when configured,
// namespaces the topic tree for brokers shared across deployments.
func InboundTopic(prefix, initiator, root, stream string) string {
	return fmt.Sprintf("$share/%s/%s", initiator,
		withPrefix(prefix, fmt.Sprintf("%s/%s/%s", initiator, root, stream)))
}

// OutboundTopic is where commands for a receiver are published.
func OutboundTopic(prefix, root, receiver string) string {
	return withPrefix(prefix, fmt.Sprintf("%s/%s/config", root, receiver))
}

func withPrefix(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return strings.TrimSuffix(prefix, "/") + "/" + topic
}

// Conn is a single broker connection. Each ingress worker owns one, with
// its own client id, so shared subscriptions load-balance correctly.
type Conn struct {
	client mqtt.Client
	log    *zap.Logger
}

// Connect dials the broker. clientSuffix disambiguates the MQTT client
// id between workers of the same process. onLost, when non-nil, is
// invoked on every connection loss; the paho client reconnects and
// re-subscribes on its own.
func Connect(cfg config.BusConfig, clientSuffix string, onLost func(error), log *zap.Logger) (*Conn, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "naeural-go"
	}
	clientID += clientSuffix

	opts := mqtt.NewClientOptions().
		AddBroker(normalizeURL(cfg.URL)).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(cfg.Clean).
		SetAutoReconnect(true).
		SetResumeSubs(true).
		SetConnectTimeout(connectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("bus connection lost", zap.String("client_id", clientID), zap.Error(err))
		if onLost != nil {
			onLost(err)
		}
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("bus connect timeout after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus connect: %w", err)
	}
	log.Info("bus connected", zap.String("client_id", clientID))
	return &Conn{client: c, log: log}, nil
}

// Subscribe registers handler for topic. The handler runs on the paho
// router goroutine; keep it short and hand off to a channel.
func (c *Conn) Subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, subscribeQoS, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.log.Debug("subscribed", zap.String("topic", topic))
	return nil
}

// Publish sends payload to topic at QoS 2.
func (c *Conn) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, publishQoS, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing in-flight messages a short drain window.
func (c *Conn) Close() {
	c.client.Disconnect(250)
}

func normalizeURL(url string) string {
	if strings.Contains(url, "://") {
		return url
	}
	return "tcp://" + url
}
