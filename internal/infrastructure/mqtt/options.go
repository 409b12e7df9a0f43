package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
)

// Connection constants.
const (
	// connectTimeout bounds the first connection attempt.
	connectTimeout = 10 * time.Second

	// publishTimeout bounds the wait for a publish acknowledgement.
	publishTimeout = 5 * time.Second

	// keepAlive is the interval of MQTT PINGREQs on an idle session.
	keepAlive = 60 * time.Second

	// quiesceMillis is how long Disconnect waits for in-flight work.
	quiesceMillis = 1000

	// maxQoS is the highest QoS level MQTT defines.
	maxQoS = 2

	// willQoS is the QoS of the offline will message.
	willQoS byte = 1
)

// Presence reasons carried in status payloads.
const (
	// reasonUnexpected marks the will, sent by the broker when the
	// session dies without Close.
	reasonUnexpected = "unexpected_disconnect"

	// reasonShutdown marks the offline status Close publishes.
	reasonShutdown = "graceful_shutdown"
)

// clientOptions maps the mirror config onto paho options: ssl:// when TLS
// is on, clean sessions, and paho's own reconnect loop bounded by the
// configured delays.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// presence is the retained payload on the status topic.
type presence struct {
	// Status is "online" or "offline".
	Status string `json:"status"`

	// ClientID identifies the bridge instance to subscribers.
	ClientID string `json:"client_id"`

	// Reason explains an offline status; empty when online.
	Reason string `json:"reason,omitempty"`

	// Timestamp is when the payload was built, RFC 3339 in UTC.
	Timestamp string `json:"timestamp"`
}

// statusPayload encodes a presence message for the status topic.
func statusPayload(status, clientID, reason string) []byte {
	b, _ := json.Marshal(presence{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

// setWill has the broker publish a retained offline status if the bridge
// drops without Close.
func setWill(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetBinaryWill(topics.Status(), statusPayload("offline", clientID, reasonUnexpected), willQoS, true)
}
