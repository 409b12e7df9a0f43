package mqtt

import "errors"

// Domain errors for the MQTT mirror transport. Check them with errors.Is.
var (
	// ErrDisabled is returned by Connect when the mirror is turned off.
	ErrDisabled = errors.New("mqtt: disabled in configuration")

	// ErrConnectionFailed wraps the reason the first session failed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned by Publish and HealthCheck while the
	// session is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed wraps broker errors, timeouts and oversized
	// payloads.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS rejects levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
