// Package sizefmt formats byte counts for display.
package sizefmt

import (
	"math"
	"strconv"
)

var units = []string{"Bytes", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders a byte count using 1024-based units with up to two
// decimal places, trailing zeros trimmed: 0 -> "0 Bytes", 1536 -> "1.5 KB",
// 1048576 -> "1 MB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	const unit = 1024.0
	exp := int(math.Floor(math.Log(float64(n)) / math.Log(unit)))
	if exp >= len(units) {
		exp = len(units) - 1
	}
	v := float64(n) / math.Pow(unit, float64(exp))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[exp]
}
