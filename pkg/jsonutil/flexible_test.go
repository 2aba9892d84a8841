package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"emp_id"`, "emp_id"},
		{"integer", `42`, "42"},
		{"float", `0.85`, "0.85"},
		{"bool", `true`, "true"},
		{"null", `null`, ""},
		{"empty", ``, ""},
		{"object fallback", `{"a":1}`, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleStringValue(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlexibleFloatValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"number", `0.85`, 0.85},
		{"integer", `1`, 1},
		{"quoted number", `"0.85"`, 0.85},
		{"quoted with trailing text", `"0.85 (high)"`, 0.85},
		{"negative", `"-0.2"`, -0.2},
		{"null", `null`, 0},
		{"empty", ``, 0},
		{"non-numeric string", `"high"`, 0},
		{"object", `{"a":1}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleFloatValue(json.RawMessage(tt.raw))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
