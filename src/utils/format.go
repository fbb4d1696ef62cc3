package utils

import (
	"crypto/rand"
	"fmt"
	"strconv"

	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------

// FormatValue renders a numeric value with the given decimals and an optional
// units suffix.
func FormatValue(value float64, decimals int, units string) string {
	text := strconv.FormatFloat(value, 'f', decimals, 64)
	if units != "" {
		text += " " + units
	}
	return text
}

// -----------------------------------------------------------------------------

// NumericValue extracts a float64 from a sample value. Telemetry payloads
// carry numbers as float64, json numbers or numeric strings.
func NumericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// -----------------------------------------------------------------------------

// Guid returns a random 128-bit identifier in canonical form.
func Guid() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// -----------------------------------------------------------------------------

// LatestValue returns the last sample of a series, ok=false when empty.
func LatestValue(series models.MDataSeries) (models.MDataPoint, bool) {
	if len(series) == 0 {
		return models.MDataPoint{}, false
	}
	return series[len(series)-1], true
}
