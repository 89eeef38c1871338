package meter

import (
	"math"
	"strings"
	"time"
)

// DeviceStatus is the coarse health of a meter.
type DeviceStatus string

const (
	StatusActive   DeviceStatus = "active"
	StatusInactive DeviceStatus = "inactive"
	StatusUnknown  DeviceStatus = "unknown"
)

// Valid reports whether s is one of the known statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusUnknown:
		return true
	}
	return false
}

// ParseStatus maps the free-form status strings meters publish
// ("online", "offline", ...) onto DeviceStatus.
func ParseStatus(s string) DeviceStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "online", "connected":
		return StatusActive
	case "inactive", "offline", "disconnected":
		return StatusInactive
	default:
		return StatusUnknown
	}
}

// Device is a registered meter. SerialNumber is the immutable identity;
// DeviceID is the logical id that appears in MQTT topics and may be reassigned.
type Device struct {
	ID              int64        `json:"id"`
	SerialNumber    string       `json:"serial_number"`
	DeviceID        string       `json:"device_id"`
	Username        string       `json:"username,omitempty"`
	Name            string       `json:"name,omitempty"`
	Location        string       `json:"location,omitempty"`
	Status          DeviceStatus `json:"status"`
	FirmwareVersion string       `json:"firmware_version,omitempty"`
	IPAddress       string       `json:"ip_address,omitempty"`
	OTAURL          string       `json:"ota_url,omitempty"`
	LastSeen        *time.Time   `json:"last_seen,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DevicePatch is a partial device update. A nil field is absent and leaves
// the stored value untouched; a non-nil field overwrites it.
type DevicePatch struct {
	DeviceID        *string       `json:"device_id,omitempty"`
	Username        *string       `json:"username,omitempty"`
	Name            *string       `json:"name,omitempty"`
	Location        *string       `json:"location,omitempty"`
	Status          *DeviceStatus `json:"status,omitempty"`
	FirmwareVersion *string       `json:"firmware_version,omitempty"`
	IPAddress       *string       `json:"ip_address,omitempty"`
	OTAURL          *string       `json:"ota_url,omitempty"`

	// LastSeen defaults to the time of the upsert.
	LastSeen *time.Time `json:"-"`
}

// Validate checks the fields that are present.
func (p DevicePatch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return invalidDevice("unknown status %q", *p.Status)
	}
	if p.DeviceID != nil && *p.DeviceID == "" {
		return invalidDevice("device_id cannot be set to empty")
	}
	return nil
}

// Reading is one immutable telemetry sample.
// Energy is the meter's cumulative kWh counter.
type Reading struct {
	ID           int64     `json:"id,omitempty"`
	DeviceID     string    `json:"device_id"`
	SerialNumber string    `json:"serial_number"`
	Voltage      float64   `json:"voltage"`
	Current      float64   `json:"current"`
	Power        float64   `json:"power"`
	Energy       float64   `json:"energy"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate rejects readings that cannot be stored.
func (r Reading) Validate() error {
	if r.DeviceID == "" {
		return invalidReading("device_id is required")
	}
	if r.Timestamp.IsZero() {
		return invalidReading("timestamp is required")
	}
	if y := r.Timestamp.UTC().Year(); y < 1 || y > 9999 {
		return invalidReading("timestamp year %d is outside 0001-9999", y)
	}
	for name, v := range map[string]float64{
		"voltage": r.Voltage,
		"current": r.Current,
		"power":   r.Power,
		"energy":  r.Energy,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalidReading("%s is not a finite number", name)
		}
	}
	return nil
}

// ReadingFilter selects the readings of one meter, by serial number or,
// when the serial is unknown, by device id. Exactly one must be set.
type ReadingFilter struct {
	SerialNumber string
	DeviceID     string
}

func (f ReadingFilter) validate() error {
	if (f.SerialNumber == "") == (f.DeviceID == "") {
		return invalidReading("filter needs exactly one of serial_number or device_id")
	}
	return nil
}

// Counts summarises the store contents.
type Counts struct {
	Devices  int64 `json:"total_devices"`
	Readings int64 `json:"total_readings"`
}
