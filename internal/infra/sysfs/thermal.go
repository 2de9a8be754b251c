package sysfs

import (
	"context"
	"fmt"
	"strings"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// Plausible sensor range in °C. Zones outside it are treated as broken.
const (
	minPlausibleCelsius = 1.0
	maxPlausibleCelsius = 150.0
)

// CurrentCPUTemperature averages every CPU-like thermal zone. When no zone
// type matches the filter, the first zone with a plausible reading is used.
func (h *Host) CurrentCPUTemperature(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	zones, err := h.fs.ClassThermalZoneStats()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSensorUnavailable, err)
	}

	var sum float64
	var n int
	fallback, haveFallback := 0.0, false
	for _, z := range zones {
		c := float64(z.Temp) / 1000
		if c < minPlausibleCelsius || c > maxPlausibleCelsius {
			continue
		}
		if !haveFallback {
			fallback, haveFallback = c, true
		}
		if h.cpuZone(z.Type) {
			sum += c
			n++
		}
	}

	switch {
	case n > 0:
		return sum / float64(n), nil
	case haveFallback:
		return fallback, nil
	default:
		return 0, fmt.Errorf("%w: no readable thermal zone among %d", domain.ErrSensorUnavailable, len(zones))
	}
}

func (h *Host) cpuZone(typ string) bool {
	typ = strings.ToLower(typ)
	for _, f := range h.zoneFilter {
		if strings.Contains(typ, f) {
			return true
		}
	}
	return false
}
