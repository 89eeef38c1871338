package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// number accepts a JSON number or a numeric string.
type number struct {
	value float64
	set   bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("not a finite number: %s", data)
	}
	n.value, n.set = v, true
	return nil
}

// dataPayload is the body of a <ns>/<id>/data message.
type dataPayload struct {
	SerialNumber    string          `json:"serial_number"`
	Voltage         number          `json:"voltage"`
	Current         number          `json:"current"`
	Power           number          `json:"power"`
	Energy          number          `json:"energy"`
	Timestamp       json.RawMessage `json:"timestamp"`
	IPAddress       string          `json:"ip_address"`
	FirmwareVersion string          `json:"firmware_version"`
}

func parseData(topic string, payload []byte) (dataPayload, error) {
	var p dataPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return dataPayload{}, &ParseError{Topic: topic, Reason: "invalid JSON", Err: err}
	}

	var missing []string
	for name, n := range map[string]number{
		"voltage": p.Voltage,
		"current": p.Current,
		"power":   p.Power,
		"energy":  p.Energy,
	} {
		if !n.set {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return dataPayload{}, &ParseError{Topic: topic, Reason: "missing " + strings.Join(missing, ", ")}
	}

	p.SerialNumber = strings.TrimSpace(p.SerialNumber)
	return p, nil
}

// statusPayload is the body of a <ns>/<id>/status message.
type statusPayload struct {
	SerialNumber    string `json:"serial_number"`
	Status          string `json:"status"`
	IPAddress       string `json:"ip_address"`
	FirmwareVersion string `json:"firmware_version"`
}

// parseStatus accepts a JSON object or a bare status word.
func parseStatus(topic string, payload []byte) (statusPayload, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return statusPayload{}, &ParseError{Topic: topic, Reason: "empty status"}
	}
	if trimmed[0] != '{' {
		return statusPayload{Status: strings.Trim(string(trimmed), `"`)}, nil
	}

	var p statusPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return statusPayload{}, &ParseError{Topic: topic, Reason: "invalid JSON", Err: err}
	}
	p.SerialNumber = strings.TrimSpace(p.SerialNumber)
	return p, nil
}

// minPlausibleTime rejects the 1970-based clocks that meters report before
// their first NTP sync.
var minPlausibleTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// maxClockSkew is how far ahead of the receive time a meter clock may run
// before its timestamp is discarded.
const maxClockSkew = 24 * time.Hour

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

// timestampLayouts are tried in order for string timestamps. Layouts
// without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// parseTimestamp normalises a payload timestamp to UTC. Absent,
// unparseable or implausible values yield now.
func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return now.UTC()
	}

	var t time.Time
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t = parseTimestampString(strings.TrimSpace(s))
	} else if v, err := strconv.ParseFloat(string(raw), 64); err == nil {
		t = fromEpoch(v)
	}

	if t.IsZero() || t.Before(minPlausibleTime) || t.After(now.Add(maxClockSkew)) {
		return now.UTC()
	}
	return t.UTC()
}

func parseTimestampString(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(v)
	}
	return time.Time{}
}

func fromEpoch(v float64) time.Time {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return time.Time{}
	}
	if v > epochMillisThreshold {
		return time.UnixMilli(int64(v))
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}
