package meter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width UTC so that lexical order in TEXT columns
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC 3339.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// SQLiteStore implements Store on SQLite through sqlx.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

const deviceColumns = `id, serial_number, device_id, username, name, location, status,
	firmware_version, ip_address, ota_url, last_seen, created_at, updated_at`

type deviceRow struct {
	ID              int64          `db:"id"`
	SerialNumber    string         `db:"serial_number"`
	DeviceID        string         `db:"device_id"`
	Username        sql.NullString `db:"username"`
	Name            sql.NullString `db:"name"`
	Location        sql.NullString `db:"location"`
	Status          string         `db:"status"`
	FirmwareVersion sql.NullString `db:"firmware_version"`
	IPAddress       sql.NullString `db:"ip_address"`
	OTAURL          sql.NullString `db:"ota_url"`
	LastSeen        sql.NullString `db:"last_seen"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

func (r deviceRow) toDevice() (Device, error) {
	d := Device{
		ID:              r.ID,
		SerialNumber:    r.SerialNumber,
		DeviceID:        r.DeviceID,
		Username:        r.Username.String,
		Name:            r.Name.String,
		Location:        r.Location.String,
		Status:          DeviceStatus(r.Status),
		FirmwareVersion: r.FirmwareVersion.String,
		IPAddress:       r.IPAddress.String,
		OTAURL:          r.OTAURL.String,
	}
	var err error
	if r.LastSeen.Valid && r.LastSeen.String != "" {
		t, perr := parseTime(r.LastSeen.String)
		if perr != nil {
			return Device{}, perr
		}
		d.LastSeen = &t
	}
	if d.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return Device{}, err
	}
	if d.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return Device{}, err
	}
	return d, nil
}

type readingRow struct {
	ID           int64   `db:"id"`
	DeviceID     string  `db:"device_id"`
	SerialNumber string  `db:"serial_number"`
	Voltage      float64 `db:"voltage"`
	Current      float64 `db:"current"`
	Power        float64 `db:"power"`
	Energy       float64 `db:"energy"`
	Timestamp    string  `db:"timestamp"`
}

func (r readingRow) toReading() (Reading, error) {
	ts, err := parseTime(r.Timestamp)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		SerialNumber: r.SerialNumber,
		Voltage:      r.Voltage,
		Current:      r.Current,
		Power:        r.Power,
		Energy:       r.Energy,
		Timestamp:    ts,
	}, nil
}

func toReadings(rows []readingRow) ([]Reading, error) {
	out := make([]Reading, 0, len(rows))
	for _, row := range rows {
		r, err := row.toReading()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// nullable turns a patch pointer into a bind value; nil binds as NULL.
func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

const upsertDeviceSQL = `
	INSERT INTO devices (
		serial_number, device_id, username, name, location, status,
		firmware_version, ip_address, ota_url, last_seen, created_at, updated_at
	) VALUES (
		:serial_number, COALESCE(:device_id, ''), :username, :name, :location,
		COALESCE(:status, 'active'), :firmware_version, :ip_address, :ota_url,
		:last_seen, :now, :now
	)
	ON CONFLICT(serial_number) DO UPDATE SET
		device_id        = COALESCE(:device_id, devices.device_id),
		username         = COALESCE(:username, devices.username),
		name             = COALESCE(:name, devices.name),
		location         = COALESCE(:location, devices.location),
		status           = COALESCE(:status, devices.status),
		firmware_version = COALESCE(:firmware_version, devices.firmware_version),
		ip_address       = COALESCE(:ip_address, devices.ip_address),
		ota_url          = COALESCE(:ota_url, devices.ota_url),
		last_seen        = :last_seen,
		updated_at       = :now`

// UpsertDevice creates or merges a device in a single statement, so
// concurrent upserts of one serial never produce two rows.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, serial string, patch DevicePatch) (Device, error) {
	if serial == "" {
		return Device{}, invalidDevice("serial_number is required")
	}
	if err := patch.Validate(); err != nil {
		return Device{}, err
	}

	now := s.now()
	lastSeen := now
	if patch.LastSeen != nil {
		lastSeen = *patch.LastSeen
	}
	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}

	args := map[string]any{
		"serial_number":    serial,
		"device_id":        nullable(patch.DeviceID),
		"username":         nullable(patch.Username),
		"name":             nullable(patch.Name),
		"location":         nullable(patch.Location),
		"status":           status,
		"firmware_version": nullable(patch.FirmwareVersion),
		"ip_address":       nullable(patch.IPAddress),
		"ota_url":          nullable(patch.OTAURL),
		"last_seen":        formatTime(lastSeen),
		"now":              formatTime(now),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Device{}, storageErr("upsert device", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.NamedExecContext(ctx, upsertDeviceSQL, args); err != nil {
		return Device{}, storageErr("upsert device", err)
	}

	var row deviceRow
	if err := tx.GetContext(ctx, &row,
		`SELECT `+deviceColumns+` FROM devices WHERE serial_number = ?`, serial); err != nil {
		return Device{}, storageErr("upsert device", err)
	}
	if err := tx.Commit(); err != nil {
		return Device{}, storageErr("upsert device", err)
	}

	d, err := row.toDevice()
	if err != nil {
		return Device{}, storageErr("upsert device", err)
	}
	return d, nil
}

const updateOwnedDeviceSQL = `
	UPDATE devices SET
		device_id        = COALESCE(:device_id, device_id),
		name             = COALESCE(:name, name),
		location         = COALESCE(:location, location),
		status           = COALESCE(:status, status),
		firmware_version = COALESCE(:firmware_version, firmware_version),
		ip_address       = COALESCE(:ip_address, ip_address),
		ota_url          = COALESCE(:ota_url, ota_url),
		updated_at       = :now
	WHERE serial_number = :serial_number AND username = :owner`

// UpdateOwnedDevice merges patch into an existing device owned by owner.
// It never creates a row and leaves last_seen and the owner unchanged.
// Returns ErrDeviceNotFound or ErrForbidden when nothing was updated.
func (s *SQLiteStore) UpdateOwnedDevice(ctx context.Context, serial, owner string, patch DevicePatch) (Device, error) {
	if serial == "" {
		return Device{}, invalidDevice("serial_number is required")
	}
	if err := patch.Validate(); err != nil {
		return Device{}, err
	}

	var status any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	args := map[string]any{
		"serial_number":    serial,
		"owner":            owner,
		"device_id":        nullable(patch.DeviceID),
		"name":             nullable(patch.Name),
		"location":         nullable(patch.Location),
		"status":           status,
		"firmware_version": nullable(patch.FirmwareVersion),
		"ip_address":       nullable(patch.IPAddress),
		"ota_url":          nullable(patch.OTAURL),
		"now":              formatTime(s.now()),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Device{}, storageErr("update device", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.NamedExecContext(ctx, updateOwnedDeviceSQL, args)
	if err != nil {
		return Device{}, storageErr("update device", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Device{}, storageErr("update device", err)
	}

	var row deviceRow
	err = tx.GetContext(ctx, &row, `SELECT `+deviceColumns+` FROM devices WHERE serial_number = ?`, serial)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Device{}, ErrDeviceNotFound
	case err != nil:
		return Device{}, storageErr("update device", err)
	case n == 0:
		return Device{}, ErrForbidden
	}
	if err := tx.Commit(); err != nil {
		return Device{}, storageErr("update device", err)
	}

	d, err := row.toDevice()
	if err != nil {
		return Device{}, storageErr("update device", err)
	}
	return d, nil
}

const createDeviceSQL = `
	INSERT INTO devices (
		serial_number, device_id, username, name, location, status,
		firmware_version, ip_address, ota_url, last_seen, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(serial_number) DO UPDATE SET
		username  = excluded.username,
		device_id = CASE WHEN excluded.device_id = '' THEN devices.device_id ELSE excluded.device_id END,
		name      = COALESCE(excluded.name, devices.name),
		location  = COALESCE(excluded.location, devices.location),
		updated_at = excluded.updated_at
	WHERE devices.username IS NULL OR devices.username = ''`

// CreateDevice registers a device for device.Username. A device that
// ingestion discovered but nobody owns yet is claimed instead; a serial
// that already has an owner yields ErrConflict.
func (s *SQLiteStore) CreateDevice(ctx context.Context, device Device) (Device, error) {
	if device.SerialNumber == "" {
		return Device{}, invalidDevice("serial_number is required")
	}
	if device.Status == "" {
		device.Status = StatusActive
	}
	if !device.Status.Valid() {
		return Device{}, invalidDevice("unknown status %q", device.Status)
	}

	now := formatTime(s.now())
	var lastSeen any
	if device.LastSeen != nil {
		lastSeen = formatTime(*device.LastSeen)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Device{}, storageErr("create device", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, createDeviceSQL,
		device.SerialNumber, device.DeviceID, nullString(device.Username),
		nullString(device.Name), nullString(device.Location), string(device.Status),
		nullString(device.FirmwareVersion), nullString(device.IPAddress),
		nullString(device.OTAURL), lastSeen, now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return Device{}, ErrConflict
		}
		return Device{}, storageErr("create device", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Device{}, storageErr("create device", err)
	}
	if affected == 0 {
		return Device{}, ErrConflict
	}

	var row deviceRow
	if err := tx.GetContext(ctx, &row,
		`SELECT `+deviceColumns+` FROM devices WHERE serial_number = ?`, device.SerialNumber); err != nil {
		return Device{}, storageErr("create device", err)
	}
	if err := tx.Commit(); err != nil {
		return Device{}, storageErr("create device", err)
	}

	created, err := row.toDevice()
	if err != nil {
		return Device{}, storageErr("create device", err)
	}
	return created, nil
}

// FindDeviceBySerial looks a device up by its serial number.
func (s *SQLiteStore) FindDeviceBySerial(ctx context.Context, serial string) (Device, error) {
	return s.getDevice(ctx, "find device by serial",
		`SELECT `+deviceColumns+` FROM devices WHERE serial_number = ?`, serial)
}

// FindDeviceByDeviceID returns the most recently seen device reporting under deviceID.
func (s *SQLiteStore) FindDeviceByDeviceID(ctx context.Context, deviceID string) (Device, error) {
	return s.getDevice(ctx, "find device by device_id",
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?
		 ORDER BY last_seen DESC, id DESC LIMIT 1`, deviceID)
}

func (s *SQLiteStore) getDevice(ctx context.Context, op, query string, arg any) (Device, error) {
	var row deviceRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, storageErr(op, err)
	}
	d, err := row.toDevice()
	if err != nil {
		return Device{}, storageErr(op, err)
	}
	return d, nil
}

// FindDevicesByOwner lists an owner's devices, most recently seen first.
func (s *SQLiteStore) FindDevicesByOwner(ctx context.Context, username string) ([]Device, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+deviceColumns+` FROM devices WHERE username = ?
		 ORDER BY last_seen DESC, id DESC`, username)
	if err != nil {
		return nil, storageErr("find devices by owner", err)
	}

	devices := make([]Device, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDevice()
		if err != nil {
			return nil, storageErr("find devices by owner", err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// DeleteDevice removes a device owned by owner. Readings are kept.
func (s *SQLiteStore) DeleteDevice(ctx context.Context, id int64, owner string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("delete device", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var username sql.NullString
	if err := tx.GetContext(ctx, &username, `SELECT username FROM devices WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDeviceNotFound
		}
		return storageErr("delete device", err)
	}
	if username.String != owner {
		return ErrForbidden
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id); err != nil {
		return storageErr("delete device", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("delete device", err)
	}
	return nil
}

// InsertReading appends a reading.
func (s *SQLiteStore) InsertReading(ctx context.Context, reading Reading) (int64, error) {
	if err := reading.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO readings (device_id, serial_number, voltage, current, power, energy, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reading.DeviceID, reading.SerialNumber, reading.Voltage, reading.Current,
		reading.Power, reading.Energy, formatTime(reading.Timestamp),
	)
	if err != nil {
		return 0, storageErr("insert reading", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert reading", err)
	}
	return id, nil
}

const readingColumns = `id, device_id, serial_number, voltage, current, power, energy, timestamp`

// LatestReading returns the newest reading of a meter.
func (s *SQLiteStore) LatestReading(ctx context.Context, serial string) (Reading, error) {
	var row readingRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+readingColumns+` FROM readings WHERE serial_number = ?
		 ORDER BY timestamp DESC, id DESC LIMIT 1`, serial)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reading{}, ErrNoReadings
		}
		return Reading{}, storageErr("latest reading", err)
	}
	r, err := row.toReading()
	if err != nil {
		return Reading{}, storageErr("latest reading", err)
	}
	return r, nil
}

// RecentReadings returns up to limit readings, newest first.
func (s *SQLiteStore) RecentReadings(ctx context.Context, serial string, limit int) ([]Reading, error) {
	if limit <= 0 {
		return []Reading{}, nil
	}
	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+readingColumns+` FROM readings WHERE serial_number = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, serial, limit)
	if err != nil {
		return nil, storageErr("recent readings", err)
	}
	out, err := toReadings(rows)
	if err != nil {
		return nil, storageErr("recent readings", err)
	}
	return out, nil
}

// ReadingsInRange returns readings in [from, to), oldest first.
func (s *SQLiteStore) ReadingsInRange(ctx context.Context, filter ReadingFilter, from, to time.Time) ([]Reading, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	column, value := "serial_number", filter.SerialNumber
	if filter.SerialNumber == "" {
		column, value = "device_id", filter.DeviceID
	}

	var rows []readingRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+readingColumns+` FROM readings
		 WHERE `+column+` = ? AND timestamp >= ? AND timestamp < ?
		 ORDER BY timestamp ASC, id ASC`,
		value, formatTime(from), formatTime(to))
	if err != nil {
		return nil, storageErr("readings in range", err)
	}
	out, err := toReadings(rows)
	if err != nil {
		return nil, storageErr("readings in range", err)
	}
	return out, nil
}

// Counts returns the number of devices and readings.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := s.db.GetContext(ctx, &c.Devices, `SELECT COUNT(*) FROM devices`); err != nil {
		return Counts{}, storageErr("count devices", err)
	}
	if err := s.db.GetContext(ctx, &c.Readings, `SELECT COUNT(*) FROM readings`); err != nil {
		return Counts{}, storageErr("count readings", err)
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
