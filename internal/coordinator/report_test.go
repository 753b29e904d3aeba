package coordinator

import (
	"strings"
	"testing"
)

func TestExtractJSONString(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		key     string
		want    string
		ok      bool
	}{
		{
			name:    "simple",
			payload: `{"gcode_state":"RUNNING"}`,
			key:     "gcode_state",
			want:    "RUNNING",
			ok:      true,
		},
		{
			name:    "unknown adjacent fields",
			payload: `{"wifi_signal":"-44dBm","gcode_file":"boat.gcode.3mf","nozzle_temper":220.5}`,
			key:     "gcode_file",
			want:    "boat.gcode.3mf",
			ok:      true,
		},
		{
			name:    "escaped quotes",
			payload: `{"gcode_file":"my \"favourite\" boat.gcode.3mf"}`,
			key:     "gcode_file",
			want:    `my "favourite" boat.gcode.3mf`,
			ok:      true,
		},
		{
			name:    "escaped backslash",
			payload: `{"gcode_file":"dir\\boat.3mf"}`,
			key:     "gcode_file",
			want:    `dir\boat.3mf`,
			ok:      true,
		},
		{
			name:    "whitespace around colon",
			payload: `{"gcode_state" :  "PAUSE"}`,
			key:     "gcode_state",
			want:    "PAUSE",
			ok:      true,
		},
		{
			name:    "missing key",
			payload: `{"other":"x"}`,
			key:     "gcode_state",
			ok:      false,
		},
		{
			name:    "non-string value",
			payload: `{"gcode_state":42}`,
			key:     "gcode_state",
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONString(tt.payload, tt.key)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("value = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSONInt(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		key     string
		want    int
		ok      bool
	}{
		{"integer", `{"mc_percent":97}`, "mc_percent", 97, true},
		{"fractional truncates", `{"mc_percent":99.7}`, "mc_percent", 99, true},
		{"negative", `{"mc_percent":-1}`, "mc_percent", -1, true},
		{"buried", `{"a":{"b":1},"mc_percent": 42,"c":"x"}`, "mc_percent", 42, true},
		{"missing", `{"a":1}`, "mc_percent", 0, false},
		{"not a number", `{"mc_percent":"high"}`, "mc_percent", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONInt(tt.payload, tt.key)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStateClassification(t *testing.T) {
	printing := []string{"RUNNING", "PRINTING", "prepare_print", "BUSY"}
	for _, state := range printing {
		if !isPrintingState(state) {
			t.Errorf("%q should classify as printing", state)
		}
	}

	completed := []string{"FINISH", "COMPLETED", "IDLE", "finished"}
	for _, state := range completed {
		if !isCompletedState(state) {
			t.Errorf("%q should classify as completed", state)
		}
	}

	for _, state := range []string{"FAILED", "SLICING", ""} {
		if isPrintingState(state) || isCompletedState(state) {
			t.Errorf("%q should classify as neither", state)
		}
	}
}

func TestBuildProjectFilePayloadDefaultsPlate(t *testing.T) {
	payload := buildProjectFilePayload("x.gcode.3mf", 0)
	want := `"param":"Metadata/plate_1.gcode"`
	if !strings.Contains(payload, want) {
		t.Errorf("payload %s missing %s", payload, want)
	}
}

func TestBuildProjectFilePayloadEscapes(t *testing.T) {
	payload := buildProjectFilePayload(`odd"name.3mf`, 1)
	want := `"file":"odd\"name.3mf"`
	if !strings.Contains(payload, want) {
		t.Errorf("payload %s missing %s", payload, want)
	}
}
