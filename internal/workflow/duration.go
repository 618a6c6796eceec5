package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnmarshalYAML accepts either a Go duration string ("30s") or a bare
// integer number of seconds, matching the teacher's own tolerant config
// parsing style (internal/config.go's getEnvIntOrDefault family).
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func parseDuration(raw interface{}) (Duration, error) {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(parsed), nil
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	case int64:
		return Duration(time.Duration(v) * time.Second), nil
	case float64:
		return Duration(time.Duration(v) * time.Second), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported duration value %v (%T)", raw, raw)
	}
}

func (d Duration) AsTime() time.Duration {
	return time.Duration(d)
}
