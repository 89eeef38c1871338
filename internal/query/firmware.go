package query

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/meterlink/meterlink-core/internal/meter"
)

// FirmwareRelease is the image currently offered to meters.
type FirmwareRelease struct {
	Version string
	BaseURL string
}

// FirmwareCheck answers a meter asking whether it should update.
type FirmwareCheck struct {
	UpdateAvailable bool   `json:"update_available"`
	Version         string `json:"version,omitempty"`
	FirmwareURL     string `json:"firmware_url,omitempty"`
	Message         string `json:"message,omitempty"`
}

var noUpdate = FirmwareCheck{Message: "No update available"}

// CheckFirmware compares a meter's running version with the published
// release. currentVersion falls back to the firmware_version the meter last
// reported.
func (s *Service) CheckFirmware(ctx context.Context, deviceID, currentVersion string) (FirmwareCheck, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return FirmwareCheck{}, newError(KindInvalid, nil, "device_id is required")
	}

	d, err := s.store.FindDeviceByDeviceID(ctx, deviceID)
	if errors.Is(err, meter.ErrDeviceNotFound) {
		return FirmwareCheck{}, newError(KindNotFound, err, "device %s not found", deviceID)
	}
	if err != nil {
		return FirmwareCheck{}, internal(err, "loading device")
	}

	current := strings.TrimSpace(currentVersion)
	if current == "" {
		current = d.FirmwareVersion
	}
	if s.firmware.Version == "" || compareVersions(s.firmware.Version, current) <= 0 {
		return noUpdate, nil
	}

	return FirmwareCheck{
		UpdateAvailable: true,
		Version:         s.firmware.Version,
		FirmwareURL:     strings.TrimRight(s.firmware.BaseURL, "/") + "/" + url.PathEscape(deviceID) + "_v" + s.firmware.Version + ".bin",
	}, nil
}

// compareVersions orders dotted versions such as "2.10" > "2.9". Numeric
// parts compare numerically, others lexically; missing parts count as zero.
// An empty version is older than any release.
func compareVersions(a, b string) int {
	a = strings.TrimPrefix(strings.TrimSpace(a), "v")
	b = strings.TrimPrefix(strings.TrimSpace(b), "v")
	switch {
	case a == b:
		return 0
	case b == "":
		return 1
	case a == "":
		return -1
	}

	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < max(len(pa), len(pb)); i++ {
		x, y := "0", "0"
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if c := comparePart(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func comparePart(x, y string) int {
	nx, errx := strconv.Atoi(x)
	ny, erry := strconv.Atoi(y)
	if errx == nil && erry == nil {
		switch {
		case nx < ny:
			return -1
		case nx > ny:
			return 1
		}
		return 0
	}
	return strings.Compare(x, y)
}
