package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"absent", ``, now},
		{"null", `null`, now},
		{"firmware format", `"2024-01-15T10:00:00Z"`, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"offset", `"2024-01-15T17:00:00+07:00"`, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"fractional", `"2024-01-15T10:00:00.250Z"`, time.Date(2024, 1, 15, 10, 0, 0, 250e6, time.UTC)},
		{"naive space", `"2024-01-15 10:00:00"`, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"naive T", `"2024-01-15T10:00:00"`, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"epoch seconds", `1705312800`, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"epoch millis", `1705312800000`, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"epoch string", `"1705312800"`, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"unsynced clock", `"1970-01-01T00:00:42Z"`, now},
		{"garbage", `"yesterday"`, now},
		{"negative", `-5`, now},
		{"object", `{"t":1}`, now},
		{"far future seconds", `900000000000`, now},
		{"five digit year", `"30489-11-11T16:00:00Z"`, now},
		{"beyond skew", `"2024-06-02T00:00:01Z"`, now},
		{"within skew", `"2024-06-01T23:00:00Z"`, time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(json.RawMessage(tt.raw), now)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseStatusPayload(t *testing.T) {
	p, err := parseStatus("meter/7/status", []byte(`"online"`))
	assert.NoError(t, err)
	assert.Equal(t, "online", p.Status)

	p, err = parseStatus("meter/7/status", []byte(`{"status":"offline","serial_number":" SN1 "}`))
	assert.NoError(t, err)
	assert.Equal(t, "offline", p.Status)
	assert.Equal(t, "SN1", p.SerialNumber)

	_, err = parseStatus("meter/7/status", []byte(`{"status":`))
	assert.ErrorIs(t, err, ErrParse)
}
