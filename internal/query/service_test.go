package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterlink/meterlink-core/internal/ingest"
	"github.com/meterlink/meterlink-core/internal/meter"
	"github.com/meterlink/meterlink-core/internal/meter/metertest"
	"github.com/meterlink/meterlink-core/internal/stats"
)

var bangkok = time.FixedZone("UTC+7", 7*3600)

type otaCall struct {
	deviceID string
	url      string
}

type fakeOTA struct {
	calls []otaCall
	err   error
}

func (f *fakeOTA) SendOTA(deviceID, url string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, otaCall{deviceID, url})
	return nil
}

func newTestService(t *testing.T) (*Service, *meter.SQLiteStore, *fakeOTA) {
	t.Helper()
	store := metertest.NewStore(t)
	ota := &fakeOTA{}
	svc := NewService(store, stats.NewEngine(store, bangkok, stats.Options{}), ota, Options{
		RecentLimitDefault: 3,
		RecentLimitMax:     5,
	})
	return svc, store, ota
}

func insertReadings(t *testing.T, store *meter.SQLiteStore, serial string, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.InsertReading(context.Background(), meter.Reading{
			DeviceID:     "7",
			SerialNumber: serial,
			Voltage:      220,
			Current:      1,
			Power:        220,
			Energy:       float64(i),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestLatestReading(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	got, err := svc.LatestReading(ctx, "SN001")
	require.NoError(t, err)
	assert.Nil(t, got, "no readings is not an error")

	insertReadings(t, store, "SN001", 3, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	got, err = svc.LatestReading(ctx, "SN001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2.0, got.Energy)

	_, err = svc.LatestReading(ctx, " ")
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestRecentReadingsLimits(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.RecentReadings(ctx, "SN001", 5)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	insertReadings(t, store, "SN001", 5, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	all, err := svc.RecentReadings(ctx, "SN001", 5)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp), "descending by time")
	}

	def, err := svc.RecentReadings(ctx, "SN001", 0)
	require.NoError(t, err)
	assert.Len(t, def, 3)

	capped, err := svc.RecentReadings(ctx, "SN001", 500)
	require.NoError(t, err)
	assert.Len(t, capped, 5)
}

func TestAggregatedStats(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	insertReadings(t, store, "SN001", 3, time.Date(2024, 1, 15, 3, 0, 0, 0, time.UTC)) // 10:00 in UTC+7

	series, err := svc.AggregatedStats(ctx, "SN001", "day", "2024-01-15")
	require.NoError(t, err)
	require.Len(t, series.Labels, 24)
	assert.Equal(t, 3, series.Buckets[10].Count)
	assert.InDelta(t, 2.0, series.Buckets[10].KWhUsed, 1e-9)

	week, err := svc.AggregatedStats(ctx, "SN001", "week", "2024-01-21")
	require.NoError(t, err)
	assert.Equal(t, "15/01", week.Labels[0], "Sunday start selects the week ending on it")

	svc.now = func() time.Time { return time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC) }
	today, err := svc.AggregatedStats(ctx, "SN001", "", "")
	require.NoError(t, err)
	assert.Equal(t, stats.ModeDay, today.Mode)
	assert.Equal(t, 16, today.Start.Day(), "today is taken in the display zone")

	_, err = svc.AggregatedStats(ctx, "SN001", "decade", "")
	assert.Equal(t, KindInvalid, KindOf(err))
	_, err = svc.AggregatedStats(ctx, "SN001", "day", "15/01/2024")
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestRegisterDevice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.RegisterDevice(ctx, "alice", RegisterInput{SerialNumber: " SN001 ", DeviceID: "7", Name: "Kitchen"})
	require.NoError(t, err)
	assert.Equal(t, "SN001", d.SerialNumber)
	assert.Equal(t, "alice", d.Username)

	_, err = svc.RegisterDevice(ctx, "bob", RegisterInput{SerialNumber: "SN001"})
	assert.Equal(t, KindConflict, KindOf(err))
	assert.ErrorIs(t, err, meter.ErrConflict)

	_, err = svc.RegisterDevice(ctx, "alice", RegisterInput{})
	assert.Equal(t, KindInvalid, KindOf(err))

	devices, err := svc.ListDevicesByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	none, err := svc.ListDevicesByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestGetAndUpdateDeviceOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterDevice(ctx, "alice", RegisterInput{SerialNumber: "SN001", DeviceID: "7"})
	require.NoError(t, err)

	_, err = svc.GetDevice(ctx, "bob", "SN001")
	assert.Equal(t, KindNotFound, KindOf(err), "foreign devices look absent on read")
	_, err = svc.GetDevice(ctx, "alice", "SN404")
	assert.Equal(t, KindNotFound, KindOf(err))

	name := "Office"
	_, err = svc.UpdateDevice(ctx, "bob", "SN001", UpdateInput{Name: &name})
	assert.Equal(t, KindForbidden, KindOf(err))

	updated, err := svc.UpdateDevice(ctx, "alice", "SN001", UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Office", updated.Name)
	assert.Equal(t, "7", updated.DeviceID)

	bad := meter.DeviceStatus("sleeping")
	_, err = svc.UpdateDevice(ctx, "alice", "SN001", UpdateInput{Status: &bad})
	assert.Equal(t, KindInvalid, KindOf(err))
}

// deleteAfterRead removes the device right after it is looked up, so the
// write that follows races a concurrent delete.
type deleteAfterRead struct {
	*meter.SQLiteStore
}

func (s deleteAfterRead) FindDeviceBySerial(ctx context.Context, serial string) (meter.Device, error) {
	d, err := s.SQLiteStore.FindDeviceBySerial(ctx, serial)
	if err == nil {
		if derr := s.SQLiteStore.DeleteDevice(ctx, d.ID, d.Username); derr != nil {
			return meter.Device{}, derr
		}
	}
	return d, err
}

func TestWritesAfterConcurrentDeleteDoNotRecreateDevice(t *testing.T) {
	store := metertest.NewStore(t)
	ota := &fakeOTA{}
	racy := deleteAfterRead{store}
	svc := NewService(racy, stats.NewEngine(store, bangkok, stats.Options{}), ota, Options{})
	ctx := context.Background()

	register := func() {
		_, err := store.CreateDevice(ctx, meter.Device{SerialNumber: "SN001", DeviceID: "7", Username: "alice"})
		require.NoError(t, err)
	}

	register()
	name := "Office"
	_, err := svc.UpdateDevice(ctx, "alice", "SN001", UpdateInput{Name: &name})
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = store.FindDeviceBySerial(ctx, "SN001")
	assert.ErrorIs(t, err, meter.ErrDeviceNotFound)

	register()
	_, err = svc.SendOTA(ctx, "alice", "SN001", "https://fw.example/x.bin")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Empty(t, ota.calls, "no command for a deleted device")

	c, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Devices)
}

func TestDeleteDevice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.RegisterDevice(ctx, "alice", RegisterInput{SerialNumber: "SN001"})
	require.NoError(t, err)

	assert.Equal(t, KindForbidden, KindOf(svc.DeleteDevice(ctx, "bob", d.ID)))
	assert.Equal(t, KindNotFound, KindOf(svc.DeleteDevice(ctx, "alice", d.ID+1)))
	require.NoError(t, svc.DeleteDevice(ctx, "alice", d.ID))
	assert.Equal(t, KindNotFound, KindOf(svc.DeleteDevice(ctx, "alice", d.ID)))
}

func TestSendOTA(t *testing.T) {
	svc, _, ota := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterDevice(ctx, "alice", RegisterInput{SerialNumber: "SN001", DeviceID: "7"})
	require.NoError(t, err)

	d, err := svc.SendOTA(ctx, "alice", "SN001", "https://fw.example/meter-2.1.bin")
	require.NoError(t, err)
	assert.Equal(t, "https://fw.example/meter-2.1.bin", d.OTAURL)
	assert.Equal(t, []otaCall{{"7", "https://fw.example/meter-2.1.bin"}}, ota.calls)

	_, err = svc.SendOTA(ctx, "bob", "SN001", "https://fw.example/x.bin")
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = svc.SendOTA(ctx, "alice", "SN001", "not a url")
	assert.Equal(t, KindInvalid, KindOf(err))

	_, err = svc.RegisterDevice(ctx, "alice", RegisterInput{SerialNumber: "SN002"})
	require.NoError(t, err)
	_, err = svc.SendOTA(ctx, "alice", "SN002", "https://fw.example/x.bin")
	assert.Equal(t, KindInvalid, KindOf(err), "no device_id to address")

	ota.err = errors.New("broker gone")
	_, err = svc.SendOTA(ctx, "alice", "SN001", "https://fw.example/x.bin")
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestSendOTAWithoutBroker(t *testing.T) {
	store := metertest.NewStore(t)
	svc := NewService(store, stats.NewEngine(store, bangkok, stats.Options{}), nil, Options{})
	ctx := context.Background()

	_, err := svc.RegisterDevice(ctx, "alice", RegisterInput{SerialNumber: "SN001", DeviceID: "7"})
	require.NoError(t, err)

	_, err = svc.SendOTA(ctx, "alice", "SN001", "https://fw.example/x.bin")
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.ErrorIs(t, err, ingest.ErrCommandUnavailable)
}

func TestSummary(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterDevice(ctx, "alice", RegisterInput{SerialNumber: "SN001"})
	require.NoError(t, err)
	insertReadings(t, store, "SN001", 4, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	c, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, meter.Counts{Devices: 1, Readings: 4}, c)
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	wrapped := internal(&meter.StorageError{Op: "x", Err: errors.New("disk")}, "loading")
	assert.ErrorIs(t, wrapped, meter.ErrStorage)
	assert.Contains(t, wrapped.Error(), "loading failed")
}
