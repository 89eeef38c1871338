package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Weeks are calendar Monday-Sunday weeks. A Sunday start selects the week
// ending that Sunday rather than the next one.
func TestNewWindowWeek(t *testing.T) {
	monday := date(2024, 3, 4)
	tests := []struct {
		name  string
		start time.Time
	}{
		{"monday", date(2024, 3, 4)},
		{"wednesday", date(2024, 3, 6)},
		{"sunday", date(2024, 3, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWindow(ModeWeek, tt.start, bangkok)
			require.NoError(t, err)
			assert.True(t, w.Start.Equal(monday), "start = %v", w.Start)
			assert.True(t, w.End.Equal(date(2024, 3, 11)), "end = %v", w.End)
		})
	}
}

func TestNewWindowUsesDateInLocation(t *testing.T) {
	// 20:00 UTC on 29 Feb is already 1 March in UTC+7.
	w, err := NewWindow(ModeDay, time.Date(2024, 2, 29, 20, 0, 0, 0, time.UTC), bangkok)
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(date(2024, 3, 1)))
	assert.Equal(t, bangkok, w.Start.Location())
}

func TestNewWindowMonthAndYear(t *testing.T) {
	w, err := NewWindow(ModeMonth, date(2024, 2, 17), bangkok)
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(date(2024, 2, 1)))
	assert.True(t, w.End.Equal(date(2024, 3, 1)))

	w, err = NewWindow(ModeYear, date(2024, 2, 17), bangkok)
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(date(2024, 1, 1)))
	assert.True(t, w.End.Equal(date(2025, 1, 1)))
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	w, err := NewWindow(ModeDay, date(2024, 3, 1), bangkok)
	require.NoError(t, err)
	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End))
	assert.True(t, w.Contains(w.End.Add(-time.Millisecond)))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeDay, false},
		{"day", ModeDay, false},
		{"WEEK", ModeWeek, false},
		{"month", ModeMonth, false},
		{"year", ModeYear, false},
		{"hour", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidMode, "ParseMode(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseStart(t *testing.T) {
	got, err := ParseStart("2024-03-01", bangkok)
	require.NoError(t, err)
	assert.True(t, got.Equal(date(2024, 3, 1)))

	got, err = ParseStart("2024-02-29T20:00:00Z", bangkok)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Day())

	_, err = ParseStart("yesterday", bangkok)
	assert.ErrorIs(t, err, ErrInvalidStart)
}
