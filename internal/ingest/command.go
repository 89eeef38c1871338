package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/meterlink/meterlink-core/internal/infrastructure/mqtt"
)

// Publisher is the broker client surface used to send commands.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	QoS() byte
}

// otaCommand asks a meter to fetch and apply firmware from URL.
type otaCommand struct {
	URL string `json:"OTAurl"`
}

// Commander publishes fire-and-forget commands to meters.
// Delivery is not tracked beyond the broker acknowledgment.
type Commander struct {
	pub    Publisher
	topics mqtt.Topics
}

// NewCommander creates a Commander. A nil pub yields ErrCommandUnavailable
// on every send.
func NewCommander(pub Publisher, topics mqtt.Topics) *Commander {
	return &Commander{pub: pub, topics: topics}
}

// SendOTA publishes {"OTAurl": url} on the device's control topic.
// Commands are never retained: a meter that is offline now must not
// act on a stale command when it returns.
func (c *Commander) SendOTA(deviceID, url string) error {
	if c == nil || c.pub == nil {
		return ErrCommandUnavailable
	}
	if deviceID == "" {
		return fmt.Errorf("%w: device has no device_id", mqtt.ErrInvalidTopic)
	}

	payload, err := json.Marshal(otaCommand{URL: url})
	if err != nil {
		return fmt.Errorf("encoding OTA command: %w", err)
	}
	if err := c.pub.Publish(c.topics.DeviceControl(deviceID), payload, c.pub.QoS(), false); err != nil {
		return fmt.Errorf("publishing OTA command to %s: %w", deviceID, err)
	}
	return nil
}
