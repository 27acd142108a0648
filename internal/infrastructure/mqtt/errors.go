package mqtt

import "errors"

// Sentinel errors. Publish and subscribe failures wrap the paho error.
var (
	// ErrNotConnected means the broker connection is down. Retained
	// publishes made while disconnected are still replayed on reconnect.
	ErrNotConnected = errors.New("mqtt: not connected to broker")

	// ErrConnectionFailed means the first CONNACK never arrived.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
