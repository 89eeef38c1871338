// Package ingest bridges meter telemetry from MQTT into the store and the
// live fan-out hub.
//
// Meters publish on per-device topics:
//
//	<namespace>/<device-id>/data     {"serial_number", "voltage", "current", "power", "energy", "timestamp", ...}
//	<namespace>/<device-id>/status   {"status": "online"|"offline", "ip_address", "firmware_version"}
//	                                 or the bare text online / offline
//
// The device id always comes from the topic. For each data message the
// Adapter normalises the reading, hands it to the hub first and then
// persists it (device upsert + reading insert) under a bounded timeout.
// Every per-message failure is logged, counted and dropped; the
// subscription keeps running.
//
// Commands flow the other way through Commander, which publishes
// fire-and-forget messages on <namespace>/<device-id>/control.
package ingest
