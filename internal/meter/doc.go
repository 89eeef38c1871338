// Package meter defines the meter domain model (devices and readings)
// and the Store that persists them.
//
// Devices are keyed by serial number; the MQTT device id is a mutable
// attribute. Readings are append-only and never updated.
//
// The SQLite implementation stores timestamps as fixed-width UTC text so
// that "latest" and range queries are served by the
// (serial_number, timestamp DESC) index.
package meter
