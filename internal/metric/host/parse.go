package host

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func deltaCounter(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func parseUintFlexible(raw string) uint64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	raw = strings.Fields(raw)[0]
	value, err := strconv.ParseUint(raw, 10, 64)
	if err == nil {
		return value
	}
	floatValue, err := strconv.ParseFloat(raw, 64)
	if err != nil || floatValue < 0 {
		return 0
	}
	return uint64(floatValue)
}

func parseFloatFlexible(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	raw = strings.TrimSuffix(raw, "%")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.Fields(raw)[0], 64)
	if err != nil {
		return 0
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// normalizeField maps the placeholders vendor tools print for missing values to "".
func normalizeField(raw string) string {
	v := strings.TrimSpace(raw)
	switch strings.ToLower(v) {
	case "", "n/a", "[n/a]", "[not supported]", "not supported", "unknown", "-", "none":
		return ""
	default:
		return v
	}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// readSource reads a pseudo-file and classifies a failure as ErrSourceAbsent.
func readSource(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", sourceError(ErrSourceAbsent, path, err)
	}
	return string(raw), nil
}

func readTrimmed(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// findMapStringByContains looks up the first key containing one of the needles.
// Needles are tried in order and keys are scanned sorted so the result is stable.
func findMapStringByContains(m map[string]any, needles ...string) string {
	keys := sortedKeys(m)
	for _, needle := range needles {
		needle = strings.ToLower(needle)
		for _, k := range keys {
			if !strings.Contains(strings.ToLower(k), needle) {
				continue
			}
			if s, ok := m[k].(string); ok {
				return normalizeField(s)
			}
			return normalizeField(fmt.Sprintf("%v", m[k]))
		}
	}
	return ""
}

func findMapFloatByContains(m map[string]any, needles ...string) (float64, string, bool) {
	keys := sortedKeys(m)
	for _, needle := range needles {
		needle = strings.ToLower(needle)
		for _, k := range keys {
			if !strings.Contains(strings.ToLower(k), needle) {
				continue
			}
			switch typed := m[k].(type) {
			case float64:
				return typed, k, true
			case string:
				if normalizeField(typed) == "" {
					continue
				}
				return parseFloatFlexible(typed), k, true
			}
		}
	}
	return 0, "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
