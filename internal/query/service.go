package query

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/meterlink/meterlink-core/internal/ingest"
	"github.com/meterlink/meterlink-core/internal/meter"
	"github.com/meterlink/meterlink-core/internal/stats"
)

// Default bounds for RecentReadings.
const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 1000
)

// Store is the part of meter.Store the façade uses.
type Store interface {
	CreateDevice(ctx context.Context, device meter.Device) (meter.Device, error)
	UpdateOwnedDevice(ctx context.Context, serial, owner string, patch meter.DevicePatch) (meter.Device, error)
	FindDeviceBySerial(ctx context.Context, serial string) (meter.Device, error)
	FindDeviceByDeviceID(ctx context.Context, deviceID string) (meter.Device, error)
	FindDevicesByOwner(ctx context.Context, username string) ([]meter.Device, error)
	DeleteDevice(ctx context.Context, id int64, owner string) error
	LatestReading(ctx context.Context, serial string) (meter.Reading, error)
	RecentReadings(ctx context.Context, serial string, limit int) ([]meter.Reading, error)
	Counts(ctx context.Context) (meter.Counts, error)
}

// Aggregator produces aggregated series; *stats.Engine satisfies it.
type Aggregator interface {
	Aggregate(ctx context.Context, serial string, mode stats.Mode, start time.Time) (stats.Series, error)
	Location() *time.Location
}

// OTASender publishes firmware update commands; *ingest.Commander satisfies it.
type OTASender interface {
	SendOTA(deviceID, url string) error
}

// Options configure a Service.
type Options struct {
	RecentLimitDefault int
	RecentLimitMax     int
	Firmware           FirmwareRelease
}

// Service implements the façade operations. It is stateless and safe for
// concurrent use.
type Service struct {
	store        Store
	engine       Aggregator
	ota          OTASender
	limitDefault int
	limitMax     int
	firmware     FirmwareRelease
	now          func() time.Time
}

// NewService wires the façade. ota may be nil when no broker is configured.
func NewService(store Store, engine Aggregator, ota OTASender, opts Options) *Service {
	s := &Service{
		store:        store,
		engine:       engine,
		ota:          ota,
		limitDefault: opts.RecentLimitDefault,
		limitMax:     opts.RecentLimitMax,
		firmware:     opts.Firmware,
		now:          time.Now,
	}
	if s.limitMax <= 0 {
		s.limitMax = MaxRecentLimit
	}
	if s.limitDefault <= 0 {
		s.limitDefault = DefaultRecentLimit
	}
	s.limitDefault = min(s.limitDefault, s.limitMax)
	return s
}

// LatestReading returns the newest reading of a meter, or nil when it has none.
func (s *Service) LatestReading(ctx context.Context, serial string) (*meter.Reading, error) {
	if err := requireSerial(serial); err != nil {
		return nil, err
	}
	r, err := s.store.LatestReading(ctx, serial)
	if errors.Is(err, meter.ErrNoReadings) {
		return nil, nil
	}
	if err != nil {
		return nil, internal(err, "loading latest reading")
	}
	return &r, nil
}

// RecentReadings returns up to limit readings, newest first. A limit of
// zero or less selects the default; larger limits are capped.
func (s *Service) RecentReadings(ctx context.Context, serial string, limit int) ([]meter.Reading, error) {
	if err := requireSerial(serial); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.limitDefault
	}
	limit = min(limit, s.limitMax)

	readings, err := s.store.RecentReadings(ctx, serial, limit)
	if err != nil {
		return nil, internal(err, "loading recent readings")
	}
	return readings, nil
}

// AggregatedStats builds the dense series for mode ("day", "week",
// "month", "year") containing start ("YYYY-MM-DD" in the display zone;
// empty means today).
func (s *Service) AggregatedStats(ctx context.Context, serial, mode, start string) (stats.Series, error) {
	if err := requireSerial(serial); err != nil {
		return stats.Series{}, err
	}
	m, err := stats.ParseMode(mode)
	if err != nil {
		return stats.Series{}, newError(KindInvalid, err, "invalid mode %q", mode)
	}

	loc := s.engine.Location()
	day := s.now().In(loc)
	if strings.TrimSpace(start) != "" {
		if day, err = stats.ParseStart(start, loc); err != nil {
			return stats.Series{}, newError(KindInvalid, err, "invalid start %q", start)
		}
	}

	series, err := s.engine.Aggregate(ctx, serial, m, day)
	if err != nil {
		return stats.Series{}, internal(err, "aggregating readings")
	}
	return series, nil
}

// RegisterInput is an explicit device registration.
type RegisterInput struct {
	SerialNumber string `json:"serial_number"`
	DeviceID     string `json:"device_id"`
	Name         string `json:"name"`
	Location     string `json:"location"`
}

// RegisterDevice registers (or claims an unowned, auto-discovered) device
// for owner.
func (s *Service) RegisterDevice(ctx context.Context, owner string, in RegisterInput) (meter.Device, error) {
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	if err := requireSerial(in.SerialNumber); err != nil {
		return meter.Device{}, err
	}
	if owner == "" {
		return meter.Device{}, newError(KindForbidden, nil, "an owner is required")
	}

	d, err := s.store.CreateDevice(ctx, meter.Device{
		SerialNumber: in.SerialNumber,
		DeviceID:     strings.TrimSpace(in.DeviceID),
		Username:     owner,
		Name:         in.Name,
		Location:     in.Location,
	})
	switch {
	case errors.Is(err, meter.ErrConflict):
		return meter.Device{}, newError(KindConflict, err, "device %s is already registered", in.SerialNumber)
	case errors.Is(err, meter.ErrInvalidDevice):
		return meter.Device{}, newError(KindInvalid, err, "invalid device")
	case err != nil:
		return meter.Device{}, internal(err, "registering device")
	}
	return d, nil
}

// GetDevice returns one of owner's devices. Devices owned by someone
// else are reported as not found.
func (s *Service) GetDevice(ctx context.Context, owner, serial string) (meter.Device, error) {
	d, err := s.ownedDevice(ctx, owner, serial)
	if err != nil {
		if KindOf(err) == KindForbidden {
			return meter.Device{}, newError(KindNotFound, nil, "device %s not found", serial)
		}
		return meter.Device{}, err
	}
	return d, nil
}

// ListDevicesByOwner returns owner's devices, most recently seen first.
func (s *Service) ListDevicesByOwner(ctx context.Context, owner string) ([]meter.Device, error) {
	devices, err := s.store.FindDevicesByOwner(ctx, owner)
	if err != nil {
		return nil, internal(err, "listing devices")
	}
	return devices, nil
}

// UpdateInput holds the user-editable device fields; nil leaves a field unchanged.
type UpdateInput struct {
	DeviceID *string             `json:"device_id,omitempty"`
	Name     *string             `json:"name,omitempty"`
	Location *string             `json:"location,omitempty"`
	Status   *meter.DeviceStatus `json:"status,omitempty"`
}

// UpdateDevice merges in into one of owner's devices.
func (s *Service) UpdateDevice(ctx context.Context, owner, serial string, in UpdateInput) (meter.Device, error) {
	if _, err := s.ownedDevice(ctx, owner, serial); err != nil {
		return meter.Device{}, err
	}

	patch := meter.DevicePatch{
		DeviceID: in.DeviceID,
		Name:     in.Name,
		Location: in.Location,
		Status:   in.Status,
	}
	if err := patch.Validate(); err != nil {
		return meter.Device{}, newError(KindInvalid, err, "invalid update")
	}
	return s.updateOwned(ctx, owner, serial, patch, "updating device")
}

// DeleteDevice removes one of owner's devices by row id.
func (s *Service) DeleteDevice(ctx context.Context, owner string, id int64) error {
	err := s.store.DeleteDevice(ctx, id, owner)
	switch {
	case errors.Is(err, meter.ErrDeviceNotFound):
		return newError(KindNotFound, err, "device %d not found", id)
	case errors.Is(err, meter.ErrForbidden):
		return newError(KindForbidden, err, "device %d belongs to another user", id)
	case err != nil:
		return internal(err, "deleting device")
	}
	return nil
}

// SendOTA records rawURL as the device's OTA source and asks the meter to
// fetch it. The command is fire-and-forget.
func (s *Service) SendOTA(ctx context.Context, owner, serial, rawURL string) (meter.Device, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return meter.Device{}, newError(KindInvalid, err, "ota url must be an absolute http(s) URL")
	}

	current, err := s.ownedDevice(ctx, owner, serial)
	if err != nil {
		return meter.Device{}, err
	}
	if current.DeviceID == "" {
		return meter.Device{}, newError(KindInvalid, nil, "device %s has not reported a device_id yet", serial)
	}
	if s.ota == nil {
		return meter.Device{}, newError(KindUnavailable, ingest.ErrCommandUnavailable, "command channel unavailable")
	}

	otaURL := u.String()
	d, err := s.updateOwned(ctx, owner, serial, meter.DevicePatch{OTAURL: &otaURL}, "recording ota url")
	if err != nil {
		return meter.Device{}, err
	}

	if err := s.ota.SendOTA(current.DeviceID, otaURL); err != nil {
		if errors.Is(err, ingest.ErrCommandUnavailable) {
			return meter.Device{}, newError(KindUnavailable, err, "command channel unavailable")
		}
		return meter.Device{}, newError(KindUnavailable, err, "publishing ota command")
	}
	return d, nil
}

// Summary returns global counters.
func (s *Service) Summary(ctx context.Context) (meter.Counts, error) {
	c, err := s.store.Counts(ctx)
	if err != nil {
		return meter.Counts{}, internal(err, "counting")
	}
	return c, nil
}

func (s *Service) ownedDevice(ctx context.Context, owner, serial string) (meter.Device, error) {
	if err := requireSerial(serial); err != nil {
		return meter.Device{}, err
	}
	d, err := s.store.FindDeviceBySerial(ctx, serial)
	if errors.Is(err, meter.ErrDeviceNotFound) {
		return meter.Device{}, newError(KindNotFound, err, "device %s not found", serial)
	}
	if err != nil {
		return meter.Device{}, internal(err, "loading device")
	}
	if d.Username != owner {
		return meter.Device{}, newError(KindForbidden, meter.ErrForbidden, "device %s belongs to another user", serial)
	}
	return d, nil
}

// updateOwned applies patch only while owner still owns serial. The row may
// have been deleted or reassigned since ownedDevice read it.
func (s *Service) updateOwned(ctx context.Context, owner, serial string, patch meter.DevicePatch, what string) (meter.Device, error) {
	d, err := s.store.UpdateOwnedDevice(ctx, serial, owner, patch)
	switch {
	case errors.Is(err, meter.ErrDeviceNotFound):
		return meter.Device{}, newError(KindNotFound, err, "device %s not found", serial)
	case errors.Is(err, meter.ErrForbidden):
		return meter.Device{}, newError(KindForbidden, err, "device %s belongs to another user", serial)
	case err != nil:
		return meter.Device{}, internal(err, what)
	}
	return d, nil
}

func requireSerial(serial string) error {
	if strings.TrimSpace(serial) == "" {
		return newError(KindInvalid, nil, "serial_number is required")
	}
	return nil
}

func internal(err error, what string) *Error {
	return newError(KindInternal, err, "%s failed", what)
}
