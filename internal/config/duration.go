package config

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// secondsPerSolarYear keeps year-based windows aligned with the solar year
// rather than a 365-day approximation.
const secondsPerSolarYear = 31556925

// Duration is a time.Duration that unmarshals from YAML strings. In addition
// to the standard Go units it accepts "d" (days), "w" (weeks) and "y" (solar
// years), which retention windows are naturally expressed in.
type Duration time.Duration

var durationToken = regexp.MustCompile(`^(\d+(?:\.\d+)?)(ns|us|µs|ms|s|m|h|d|w|y)`)

var extendedUnits = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"y":  secondsPerSolarYear * time.Second,
}

// ParseDuration parses a duration string such as "90m", "36h", "7d" or "1y".
// Multiple tokens may be concatenated ("1d12h").
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	var total time.Duration
	rest := s
	for len(rest) > 0 {
		m := durationToken.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		var value float64
		if _, err := fmt.Sscanf(m[1], "%g", &value); err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += time.Duration(value * float64(extendedUnits[m[2]]))
		rest = rest[len(m[0]):]
	}
	return total, nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
