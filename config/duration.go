package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thepwizard/unifiednamespace/errors"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s"
// or from plain integers interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return errors.WrapFatal(
			fmt.Errorf("%w: duration %q", errors.ErrInvalidConfig, value.Value),
			"config", "UnmarshalYAML", "duration parse")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.WrapFatal(
			fmt.Errorf("%w: duration %q", errors.ErrInvalidConfig, s),
			"config", "UnmarshalYAML", "duration parse")
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}
