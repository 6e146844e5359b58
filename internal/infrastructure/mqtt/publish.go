package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// A full 16x16 level map is a few hundred bytes, so this only trips on
// malformed callers.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "monome/state/m1000286")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Retained Messages:
//   - Use for state topics (device records, bridge health, status)
//   - Don't use for input events or command acks
//
// Returns:
//   - error: nil on success, ErrNotConnected while offline, or a wrapped
//     ErrPublishFailed describing the failure
//
// Example:
//
//	topic := client.Topics().Input("m1000286", "key")
//	err := client.Publish(topic, []byte(`{"x":3,"y":0,"state":1}`), 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// Check connection state
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Publish with timeout
	return wait(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishRetained publishes a retained message with the configured default QoS.
//
// Use for state updates where new subscribers should receive the current state.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

// PublishEvent publishes a non-retained message with the configured default QoS.
//
// Use for input events and acks, which are meaningless to a late subscriber.
func (c *Client) PublishEvent(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), false)
}
