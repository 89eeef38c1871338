package meter

import (
	"errors"
	"fmt"
)

// Domain errors for the meter store.
//
//	if errors.Is(err, meter.ErrConflict) {
//	    // serial already registered
//	}
var (
	// ErrDeviceNotFound is returned when no device matches.
	ErrDeviceNotFound = errors.New("meter: device not found")

	// ErrConflict is returned when an explicit create hits an existing serial number.
	ErrConflict = errors.New("meter: device already exists")

	// ErrForbidden is returned when a caller mutates a device it does not own.
	// Boundaries may report it as not found to avoid leaking existence.
	ErrForbidden = errors.New("meter: device not owned by caller")

	// ErrNoReadings is returned by LatestReading for a meter without readings.
	ErrNoReadings = errors.New("meter: no readings")

	// ErrInvalidReading is returned for readings that fail validation.
	ErrInvalidReading = errors.New("meter: invalid reading")

	// ErrInvalidDevice is returned for device input that fails validation.
	ErrInvalidDevice = errors.New("meter: invalid device")

	// ErrStorage marks failures of the underlying database.
	ErrStorage = errors.New("meter: storage failure")
)

// StorageError wraps a database failure with the operation that hit it.
// It matches both ErrStorage and the underlying cause under errors.Is.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("meter: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func invalidReading(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidReading, fmt.Sprintf(format, args...))
}

func invalidDevice(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDevice, fmt.Sprintf(format, args...))
}
