package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound messages at 1MB, a common broker limit.
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic and waits (bounded)
// for the broker acknowledgment at the requested QoS.
//
// Commands to meters use retained=false: a meter that is offline when the
// command is sent must not act on it later.
//
//	topic := mqtt.Topics{}.DeviceControl("7")
//	err := client.Publish(topic, []byte(`{"OTAurl":"http://..."}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}
