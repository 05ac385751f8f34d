// Package bytesize provides human-friendly byte size and CPU quota parsing.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// unitMultipliers maps unit suffixes to their byte values (1024-based).
var unitMultipliers = map[string]int64{
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
}

// units is ordered longest first so "MB" is tried before "M".
var units = []string{"KB", "MB", "GB", "K", "M", "G"}

// ParseMemory parses a memory limit such as "256m", "2g" or "1024".
//
// Supported suffixes: k, kb, m, mb, g, gb (case-insensitive, 1024-based).
// A bare integer is a byte count.
//
// Examples:
//
//	ParseMemory("256m")  // 268435456
//	ParseMemory("2gb")   // 2147483648
//	ParseMemory("1024")  // 1024
func ParseMemory(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty memory limit")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid memory limit %q: negative value not allowed", s)
		}
		return n, nil
	}

	var unit, valueStr string
	for _, u := range units {
		if strings.HasSuffix(s, u) {
			unit = u
			valueStr = strings.TrimSpace(strings.TrimSuffix(s, u))
			break
		}
	}
	if unit == "" {
		return 0, fmt.Errorf("invalid memory limit %q: unknown unit (supported: k, kb, m, mb, g, gb)", s)
	}
	if valueStr == "" {
		return 0, fmt.Errorf("invalid memory limit %q: missing numeric value", s)
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q in %q: %w", valueStr, s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid memory limit %q: negative value not allowed", s)
	}

	result := value * float64(unitMultipliers[unit])
	if result > math.MaxInt64 {
		return 0, fmt.Errorf("memory limit %q exceeds maximum allowed value", s)
	}

	return int64(result), nil
}

// ParseCPU converts a fractional CPU count into nano-CPUs. The second return
// value is false when s is not a number, in which case no limit applies.
//
//	ParseCPU("0.5")  // 500000000, true
//	ParseCPU("two")  // 0, false
func ParseCPU(s string) (int64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return int64(math.Round(v * 1e9)), true
}

// Format renders a byte count with a binary unit, e.g. "1.5 GB".
func Format(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
