package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/meterlink/meterlink-core/internal/infrastructure/mqtt"
	"github.com/meterlink/meterlink-core/internal/meter"
)

// defaultStoreTimeout bounds persistence when Options.StoreTimeout is unset.
const defaultStoreTimeout = 5 * time.Second

// Store is the part of meter.Store the adapter writes through.
type Store interface {
	UpsertDevice(ctx context.Context, serial string, patch meter.DevicePatch) (meter.Device, error)
	FindDeviceByDeviceID(ctx context.Context, deviceID string) (meter.Device, error)
	InsertReading(ctx context.Context, reading meter.Reading) (int64, error)
}

// Broadcaster receives every normalised reading. It must not block.
type Broadcaster interface {
	Broadcast(reading meter.Reading) int
}

// Mirror optionally receives a copy of every reading (e.g. a time-series
// database). It must not block.
type Mirror interface {
	WriteReading(reading meter.Reading)
}

// Subscriber is the broker client surface used to receive messages.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	QoS() byte
}

// Logger defines the logging interface used by the Adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configure an Adapter.
type Options struct {
	Topics       mqtt.Topics
	StoreTimeout time.Duration
	Mirror       Mirror
}

// Stats are cumulative ingestion counters.
type Stats struct {
	Received      uint64 `json:"received"`
	Stored        uint64 `json:"stored"`
	ParseErrors   uint64 `json:"parse_errors"`
	StorageErrors uint64 `json:"storage_errors"`
	Broadcasts    uint64 `json:"broadcasts"`
	StatusUpdates uint64 `json:"status_updates"`
}

// Adapter turns broker messages into stored readings and live broadcasts.
// It keeps no per-message state, so messages from many meters may be
// handled concurrently.
type Adapter struct {
	store        Store
	hub          Broadcaster
	mirror       Mirror
	topics       mqtt.Topics
	storeTimeout time.Duration
	logger       Logger
	now          func() time.Time

	received      atomic.Uint64
	stored        atomic.Uint64
	parseErrors   atomic.Uint64
	storageErrors atomic.Uint64
	broadcasts    atomic.Uint64
	statusUpdates atomic.Uint64
}

// New creates an Adapter. hub may be nil when no live viewers are served.
func New(store Store, hub Broadcaster, opts Options) *Adapter {
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Adapter{
		store:        store,
		hub:          hub,
		mirror:       opts.Mirror,
		topics:       opts.Topics,
		storeTimeout: timeout,
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	a.logger = logger
}

// Start subscribes to the data and status topics of every device. The
// broker client restores both subscriptions after a reconnect.
func (a *Adapter) Start(ctx context.Context, sub Subscriber) error {
	handler := func(topic string, payload []byte) error {
		return a.HandleMessage(ctx, topic, payload)
	}
	for _, pattern := range []string{a.topics.AllDeviceData(), a.topics.AllDeviceStatus()} {
		if err := sub.Subscribe(pattern, sub.QoS(), handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", pattern, err)
		}
		a.logger.Info("subscribed to meter topic", "topic", pattern)
	}
	return nil
}

// HandleMessage processes one broker message. The returned error is
// informational; the failure has already been logged and counted.
func (a *Adapter) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	a.received.Add(1)

	deviceID, channel, err := a.topics.ParseDeviceTopic(topic)
	if err != nil {
		return a.dropped(&ParseError{Topic: topic, Reason: "unroutable topic", Err: err})
	}

	switch channel {
	case mqtt.ChannelData:
		return a.handleData(ctx, topic, deviceID, payload)
	case mqtt.ChannelStatus:
		return a.handleStatus(ctx, topic, deviceID, payload)
	default:
		a.logger.Debug("ignoring message on unhandled channel", "topic", topic)
		return nil
	}
}

func (a *Adapter) handleData(ctx context.Context, topic, deviceID string, payload []byte) error {
	p, err := parseData(topic, payload)
	if err != nil {
		return a.dropped(err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	serial := p.SerialNumber
	if serial == "" {
		serial = a.serialFor(ctx, deviceID)
	}

	reading := meter.Reading{
		DeviceID:     deviceID,
		SerialNumber: serial,
		Voltage:      p.Voltage.value,
		Current:      p.Current.value,
		Power:        p.Power.value,
		Energy:       p.Energy.value,
		Timestamp:    parseTimestamp(p.Timestamp, a.now()),
	}

	// Live viewers first, so slow storage never delays the update.
	a.fanOut(reading)

	var errs []error
	if serial != "" {
		patch := meter.DevicePatch{DeviceID: &deviceID}
		if p.IPAddress != "" {
			patch.IPAddress = &p.IPAddress
		}
		if p.FirmwareVersion != "" {
			patch.FirmwareVersion = &p.FirmwareVersion
		}
		if _, err := a.store.UpsertDevice(ctx, serial, patch); err != nil {
			errs = append(errs, fmt.Errorf("upserting device %s: %w", serial, err))
		}
	}

	if _, err := a.store.InsertReading(ctx, reading); err != nil {
		errs = append(errs, fmt.Errorf("inserting reading: %w", err))
	} else {
		a.stored.Add(1)
	}

	if err := errors.Join(errs...); err != nil {
		a.storageErrors.Add(1)
		a.logger.Error("persisting meter reading failed",
			"topic", topic,
			"device_id", deviceID,
			"serial_number", serial,
			"error", err,
		)
		return err
	}

	a.logger.Debug("meter reading stored", "device_id", deviceID, "serial_number", serial)
	return nil
}

func (a *Adapter) handleStatus(ctx context.Context, topic, deviceID string, payload []byte) error {
	p, err := parseStatus(topic, payload)
	if err != nil {
		return a.dropped(err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	serial := p.SerialNumber
	if serial == "" {
		serial = a.serialFor(ctx, deviceID)
	}
	if serial == "" {
		a.logger.Debug("status for unknown device ignored", "device_id", deviceID)
		return nil
	}

	patch := meter.DevicePatch{DeviceID: &deviceID}
	if p.Status != "" {
		status := meter.ParseStatus(p.Status)
		patch.Status = &status
	}
	if p.IPAddress != "" {
		patch.IPAddress = &p.IPAddress
	}
	if p.FirmwareVersion != "" {
		patch.FirmwareVersion = &p.FirmwareVersion
	}

	if _, err := a.store.UpsertDevice(ctx, serial, patch); err != nil {
		a.storageErrors.Add(1)
		a.logger.Error("updating device status failed",
			"topic", topic,
			"serial_number", serial,
			"error", err,
		)
		return fmt.Errorf("upserting device %s: %w", serial, err)
	}
	a.statusUpdates.Add(1)
	return nil
}

// serialFor resolves the serial of the device last seen under deviceID.
// It returns "" when none is known.
func (a *Adapter) serialFor(ctx context.Context, deviceID string) string {
	d, err := a.store.FindDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, meter.ErrDeviceNotFound) {
			a.logger.Warn("resolving serial number failed", "device_id", deviceID, "error", err)
		}
		return ""
	}
	return d.SerialNumber
}

func (a *Adapter) fanOut(reading meter.Reading) {
	if a.hub != nil {
		a.hub.Broadcast(reading)
		a.broadcasts.Add(1)
	}
	if a.mirror != nil {
		a.mirror.WriteReading(reading)
	}
}

func (a *Adapter) dropped(err error) error {
	a.parseErrors.Add(1)
	a.logger.Warn("dropping malformed meter message", "error", err)
	return err
}

// Stats returns cumulative counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Received:      a.received.Load(),
		Stored:        a.stored.Load(),
		ParseErrors:   a.parseErrors.Load(),
		StorageErrors: a.storageErrors.Load(),
		Broadcasts:    a.broadcasts.Load(),
		StatusUpdates: a.statusUpdates.Load(),
	}
}
