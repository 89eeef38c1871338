package stats

import (
	"slices"
	"time"

	"github.com/meterlink/meterlink-core/internal/meter"
)

// Options tune aggregation policy.
type Options struct {
	// ClampNegative reports a negative energy delta (meter reset) as zero.
	ClampNegative bool
}

// Bucket is one calendar unit of a series. Min/max fields are nil when the
// bucket holds no readings.
type Bucket struct {
	Label       string    `json:"label"`
	PeriodStart time.Time `json:"period_start"`
	VoltMin     *float64  `json:"volt_min"`
	VoltMax     *float64  `json:"volt_max"`
	AmpMin      *float64  `json:"amp_min"`
	AmpMax      *float64  `json:"amp_max"`
	KWhUsed     float64   `json:"kwh_used"`
	Count       int       `json:"count"`
}

// Datasets holds the bucket values as parallel arrays aligned with Labels,
// the shape chart libraries consume.
type Datasets struct {
	VoltMin []*float64 `json:"volt_min"`
	VoltMax []*float64 `json:"volt_max"`
	AmpMin  []*float64 `json:"amp_min"`
	AmpMax  []*float64 `json:"amp_max"`
	KWhUsed []float64  `json:"kwh_used"`
}

// Series is a dense aggregated view of one window.
type Series struct {
	Mode     Mode      `json:"mode"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Labels   []string  `json:"labels"`
	Buckets  []Bucket  `json:"raw"`
	Datasets Datasets  `json:"datasets"`
}

// Aggregate rolls readings up into w. Readings outside the window are
// ignored; input order does not matter, and readings with equal timestamps
// keep their input order.
func Aggregate(readings []meter.Reading, w Window, opts Options) Series {
	sorted := make([]meter.Reading, 0, len(readings))
	for _, r := range readings {
		if w.Contains(r.Timestamp) {
			sorted = append(sorted, r)
		}
	}
	slices.SortStableFunc(sorted, func(a, b meter.Reading) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	groups := make(map[string][]meter.Reading)
	for _, r := range sorted {
		label := w.Label(r.Timestamp)
		groups[label] = append(groups[label], r)
	}

	starts := w.BucketStarts()
	s := Series{
		Mode:    w.Mode,
		Start:   w.Start,
		End:     w.End,
		Labels:  make([]string, 0, len(starts)),
		Buckets: make([]Bucket, 0, len(starts)),
		Datasets: Datasets{
			VoltMin: make([]*float64, 0, len(starts)),
			VoltMax: make([]*float64, 0, len(starts)),
			AmpMin:  make([]*float64, 0, len(starts)),
			AmpMax:  make([]*float64, 0, len(starts)),
			KWhUsed: make([]float64, 0, len(starts)),
		},
	}

	for _, start := range starts {
		label := w.Label(start)
		b := summarize(label, start, groups[label], opts)

		s.Labels = append(s.Labels, label)
		s.Buckets = append(s.Buckets, b)
		s.Datasets.VoltMin = append(s.Datasets.VoltMin, b.VoltMin)
		s.Datasets.VoltMax = append(s.Datasets.VoltMax, b.VoltMax)
		s.Datasets.AmpMin = append(s.Datasets.AmpMin, b.AmpMin)
		s.Datasets.AmpMax = append(s.Datasets.AmpMax, b.AmpMax)
		s.Datasets.KWhUsed = append(s.Datasets.KWhUsed, b.KWhUsed)
	}
	return s
}

// summarize computes one bucket from time-ordered readings.
func summarize(label string, start time.Time, group []meter.Reading, opts Options) Bucket {
	b := Bucket{Label: label, PeriodStart: start, Count: len(group)}
	if len(group) == 0 {
		return b
	}

	vMin, vMax := group[0].Voltage, group[0].Voltage
	aMin, aMax := group[0].Current, group[0].Current
	for _, r := range group[1:] {
		vMin, vMax = min(vMin, r.Voltage), max(vMax, r.Voltage)
		aMin, aMax = min(aMin, r.Current), max(aMax, r.Current)
	}
	b.VoltMin, b.VoltMax = &vMin, &vMax
	b.AmpMin, b.AmpMax = &aMin, &aMax

	b.KWhUsed = group[len(group)-1].Energy - group[0].Energy
	if opts.ClampNegative {
		b.KWhUsed = max(b.KWhUsed, 0)
	}
	return b
}
