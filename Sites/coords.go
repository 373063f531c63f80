package Sites

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"AcesFuel/Models"
)

var (
	latitudeKeys  = []string{"latitude", "lat", "siteLatitude"}
	longitudeKeys = []string{"longitude", "lng", "siteLongitude"}
)

// CoordinatePair returns the task's own coordinates: the typed site columns
// first, then the legacy field names. Both halves must be numeric.
func CoordinatePair(task *Models.Task) (float64, float64, bool) {
	if task == nil {
		return 0, 0, false
	}
	lat, latOK := firstNumber(task.SiteLatitude, task.Legacy, latitudeKeys)
	lon, lonOK := firstNumber(task.SiteLongitude, task.Legacy, longitudeKeys)
	if !latOK || !lonOK {
		return 0, 0, false
	}
	return lat, lon, true
}

// DirectionsURL builds a turn-by-turn link for the task, or "" when it has no coordinates.
func DirectionsURL(task *Models.Task) string {
	lat, lon, ok := CoordinatePair(task)
	if !ok {
		return ""
	}
	destination := fmt.Sprintf("%s,%s", formatFloat(lat), formatFloat(lon))
	return "https://www.google.com/maps/dir/?api=1&destination=" + url.QueryEscape(destination)
}

func firstNumber(typed *float64, legacy map[string]interface{}, keys []string) (float64, bool) {
	if typed != nil && isFinite(*typed) {
		return *typed, true
	}
	for _, key := range keys {
		if raw, ok := legacy[key]; ok {
			if n, ok := ToNumber(raw); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// ToNumber coerces JSON-ish values to a finite float.
func ToNumber(raw interface{}) (float64, bool) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case *float64:
		if v == nil {
			return 0, false
		}
		n = *v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if !isFinite(n) {
		return 0, false
	}
	return n, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
