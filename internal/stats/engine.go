package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/meterlink/meterlink-core/internal/meter"
)

// ReadingSource is the slice of meter.Store the engine reads from.
type ReadingSource interface {
	ReadingsInRange(ctx context.Context, filter meter.ReadingFilter, from, to time.Time) ([]meter.Reading, error)
}

// Engine aggregates stored readings. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	source ReadingSource
	loc    *time.Location
	opts   Options
}

// NewEngine creates an engine that buckets in loc (UTC when nil).
func NewEngine(source ReadingSource, loc *time.Location, opts Options) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{source: source, loc: loc, opts: opts}
}

// Location returns the display location used for windows and labels.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Aggregate builds the series of mode containing start for one meter.
// A meter with no readings yields a fully gap-filled series.
func (e *Engine) Aggregate(ctx context.Context, serial string, mode Mode, start time.Time) (Series, error) {
	w, err := NewWindow(mode, start, e.loc)
	if err != nil {
		return Series{}, err
	}

	readings, err := e.source.ReadingsInRange(ctx, meter.ReadingFilter{SerialNumber: serial}, w.Start.UTC(), w.End.UTC())
	if err != nil {
		return Series{}, fmt.Errorf("loading readings for %s: %w", serial, err)
	}
	return Aggregate(readings, w, e.opts), nil
}
