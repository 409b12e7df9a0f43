// Package mqtt provides the publish-only MQTT client behind the state mirror.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with a configurable QoS
//   - A retained presence status with Last Will and Testament
//   - Topic naming under a configurable prefix
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on localhost
//   - Payloads carry entity state; protect the prefix with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().State(entity.MustID("light.kitchen"))
//	err = client.PublishRetained(topic, payload)
package mqtt
