package meter

import (
	"context"
	"time"
)

// Store is the persistence contract for devices and readings. It is the
// only component that mutates them.
//
// Implementations must keep "latest" and "recent N" lookups index-backed
// on (serial_number, timestamp DESC) and enforce one device per serial.
type Store interface {
	// UpsertDevice creates the device if the serial is new, otherwise merges
	// the present patch fields. last_seen is always bumped. Safe under
	// concurrent calls for the same serial.
	UpsertDevice(ctx context.Context, serial string, patch DevicePatch) (Device, error)

	// UpdateOwnedDevice merges patch into a device only if owner owns it,
	// in one conditional statement. Returns ErrDeviceNotFound or ErrForbidden.
	UpdateOwnedDevice(ctx context.Context, serial, owner string, patch DevicePatch) (Device, error)

	// CreateDevice is an explicit registration. An unowned device created
	// by ingestion is claimed; ErrConflict if the serial already has an owner.
	CreateDevice(ctx context.Context, device Device) (Device, error)

	// FindDeviceBySerial returns ErrDeviceNotFound if absent.
	FindDeviceBySerial(ctx context.Context, serial string) (Device, error)

	// FindDeviceByDeviceID returns the most recently seen device using a
	// logical id, or ErrDeviceNotFound.
	FindDeviceByDeviceID(ctx context.Context, deviceID string) (Device, error)

	// FindDevicesByOwner returns an empty slice when the owner has none.
	FindDevicesByOwner(ctx context.Context, username string) ([]Device, error)

	// DeleteDevice removes a device after checking ownership.
	// Returns ErrDeviceNotFound or ErrForbidden.
	DeleteDevice(ctx context.Context, id int64, owner string) error

	// InsertReading appends a reading and returns its row id.
	// Duplicate timestamps are accepted.
	InsertReading(ctx context.Context, reading Reading) (int64, error)

	// LatestReading returns ErrNoReadings for a meter without readings.
	LatestReading(ctx context.Context, serial string) (Reading, error)

	// RecentReadings returns up to limit readings, newest first.
	RecentReadings(ctx context.Context, serial string, limit int) ([]Reading, error)

	// ReadingsInRange returns readings with from <= timestamp < to, oldest first.
	ReadingsInRange(ctx context.Context, filter ReadingFilter, from, to time.Time) ([]Reading, error)

	// Counts returns total devices and readings.
	Counts(ctx context.Context) (Counts, error)
}
