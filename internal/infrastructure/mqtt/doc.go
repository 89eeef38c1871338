// Package mqtt provides MQTT client connectivity for MeterLink Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect (capped exponential backoff)
//   - Tracked subscriptions, re-issued after every reconnect
//   - Publishing with bounded acknowledgment waits
//   - Last Will and Testament on ServiceStatusTopic
//   - Device topic builders and parsing
//
// # Topics
//
// Meters publish under a configurable namespace (default "meter"):
//
//	meter/<device-id>/data     telemetry (voltage, current, power, energy)
//	meter/<device-id>/status   presence and network metadata
//	meter/<device-id>/control  commands to the meter, e.g. {"OTAurl": "..."}
//
// The device id is always taken from the topic, never from the payload.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}
//	err = client.Subscribe(topics.AllDeviceData(), 1,
//	    func(topic string, payload []byte) error {
//	        deviceID, _, err := topics.ParseDeviceTopic(topic)
//	        ...
//	    })
package mqtt
