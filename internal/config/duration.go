package config

import (
	"fmt"
	"strings"
	"time"
)

// Every interval in the config file is a string in time.ParseDuration
// syntax ("5m", "90s"). An empty string means "use the default".

// ParseDurationField parses the duration at config path. Empty yields 0;
// negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration like 5m or 90s: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// empty or zero value, so "0s" cannot turn a poll interval off.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
