//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/meterlink/meterlink-core/internal/infrastructure/config"
)

// Integration tests against a live broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:       1,
		Namespace: "meter-it",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// TestIntegration_DeviceTopicRoundtrip publishes on a device data topic and
// receives it through the wildcard subscription.
func TestIntegration_DeviceTopicRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("meterlink-it-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationConfig("meterlink-it-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	topics := Topics{Namespace: "meter-it"}
	received := make(chan string, 1)
	var once sync.Once

	err = sub.Subscribe(topics.AllDeviceData(), 1, func(topic string, _ []byte) error {
		deviceID, _, err := topics.ParseDeviceTopic(topic)
		if err != nil {
			return err
		}
		once.Do(func() { received <- deviceID })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(topics.DeviceData("7"), []byte(`{"voltage":220.1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case deviceID := <-received:
		if deviceID != "7" {
			t.Errorf("device id = %q, want %q", deviceID, "7")
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}

// TestIntegration_ConnectRefused verifies the bounded initial connect.
func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := integrationConfig("meterlink-it-refused")
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() should fail for refused connection")
	}
}
