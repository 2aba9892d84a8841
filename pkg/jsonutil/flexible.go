package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, tolerating
// providers that return numbers or booleans where a string was asked for.
// Returns empty string for null/empty input.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return strconv.FormatInt(int64(numVal), 10)
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// FlexibleFloatValue converts a json.RawMessage to a float64, tolerating
// providers that quote numbers ("0.85") or append junk ("0.85 (high)").
// Returns 0 when nothing numeric can be recovered.
func FlexibleFloatValue(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err != nil {
		return 0
	}
	strVal = strings.TrimSpace(strVal)
	if f, err := strconv.ParseFloat(strVal, 64); err == nil {
		return f
	}
	// Take the leading numeric prefix if the string carries trailing text.
	end := 0
	for end < len(strVal) && (strVal[end] == '.' || strVal[end] == '-' || (strVal[end] >= '0' && strVal[end] <= '9')) {
		end++
	}
	if end == 0 {
		return 0
	}
	f, err := strconv.ParseFloat(strVal[:end], 64)
	if err != nil {
		return 0
	}
	return f
}
