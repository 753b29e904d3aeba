package coordinator

import (
	"fmt"
	"strings"
)

// buildProjectFilePayload renders the start command for one uploaded
// artifact. A plate index at or below zero falls back to plate 1.
func buildProjectFilePayload(remoteName string, plateIndex int) string {
	if plateIndex <= 0 {
		plateIndex = 1
	}
	platePath := fmt.Sprintf("Metadata/plate_%d.gcode", plateIndex)

	return fmt.Sprintf(`{"print":{`+
		`"command":"project_file",`+
		`"param":"%s",`+
		`"file":"%s",`+
		`"url":"ftp:///%s",`+
		`"bed_leveling":true,`+
		`"flow_cali":true,`+
		`"vibration_cali":true,`+
		`"layer_inspect":false,`+
		`"sequence_id":"10000000"`+
		`}}`,
		escapeJSONString(platePath),
		escapeJSONString(remoteName),
		escapeJSONString(remoteName))
}

func escapeJSONString(value string) string {
	var escaped strings.Builder
	escaped.Grow(len(value))
	for _, ch := range value {
		switch ch {
		case '\\':
			escaped.WriteString(`\\`)
		case '"':
			escaped.WriteString(`\"`)
		case '\n':
			escaped.WriteString(`\n`)
		case '\r':
			escaped.WriteString(`\r`)
		case '\t':
			escaped.WriteString(`\t`)
		default:
			escaped.WriteRune(ch)
		}
	}
	return escaped.String()
}
