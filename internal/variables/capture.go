package variables

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudshipai/mrforge/internal/workflow"
)

// Capture parses raw into the shape named by format, per spec.md §4.3:
// string=raw, lines=split on newline with trailing empties trimmed,
// number=IEEE-754 decimal, boolean=true/false/yes/no/1/0, json=structured value.
func Capture(raw string, format workflow.CaptureFormat) (string, error) {
	switch format {
	case "", workflow.CaptureString:
		return raw, nil
	case workflow.CaptureLines:
		lines := strings.Split(raw, "\n")
		for len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		data, err := json.Marshal(lines)
		if err != nil {
			return "", fmt.Errorf("variables: capture lines: %w", err)
		}
		return string(data), nil
	case workflow.CaptureNumber:
		trimmed := strings.TrimSpace(raw)
		if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
			return "", fmt.Errorf("variables: capture number: %w", err)
		}
		return trimmed, nil
	case workflow.CaptureBoolean:
		b, err := parseBoolLoose(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case workflow.CaptureJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return "", fmt.Errorf("variables: capture json: %w", err)
		}
		return raw, nil
	default:
		return "", fmt.Errorf("variables: unknown capture format %q", format)
	}
}

func parseBoolLoose(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	default:
		return false, fmt.Errorf("variables: capture boolean: unrecognized value %q", raw)
	}
}
