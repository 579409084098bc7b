package domain

import (
	"fmt"
	"strconv"
	"time"
)

const (
	// MaxMessageLength caps the plaintext, counted in characters.
	MaxMessageLength = 10000

	// MinPasswordLength applies only when password protection is enabled.
	MinPasswordLength = 4

	// DefaultTTL matches the default selection of the creation form.
	DefaultTTL = 24 * time.Hour
)

// TTLOption is one entry of the fixed expiration enumeration.
type TTLOption struct {
	Milliseconds int64  `json:"value"`
	Label        string `json:"label"`
}

// Duration converts the option into a time.Duration.
func (o TTLOption) Duration() time.Duration {
	return time.Duration(o.Milliseconds) * time.Millisecond
}

// TTLOptions is the only set of lifetimes callers may pick from.
var TTLOptions = []TTLOption{
	{Milliseconds: 60000, Label: "1 minute"},
	{Milliseconds: 3600000, Label: "1 hour"},
	{Milliseconds: 86400000, Label: "1 day"},
	{Milliseconds: 604800000, Label: "1 week"},
}

// TTLFromMillis resolves a millisecond value from the enumeration.
func TTLFromMillis(ms int64) (time.Duration, error) {
	for _, o := range TTLOptions {
		if o.Milliseconds == ms {
			return o.Duration(), nil
		}
	}
	return 0, NewValidationError("expires_in", fmt.Sprintf("unsupported expiration %dms", ms))
}

// ParseTTL accepts either a label shorthand (1m, 1h, 1d, 1w), a full label
// ("1 hour") or a millisecond value from the enumeration.
func ParseTTL(s string) (time.Duration, error) {
	switch s {
	case "1m", "1 minute":
		return time.Minute, nil
	case "1h", "1 hour":
		return time.Hour, nil
	case "1d", "1 day", "24h":
		return 24 * time.Hour, nil
	case "1w", "1 week", "7d", "168h":
		return 7 * 24 * time.Hour, nil
	}

	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, NewValidationError("expires_in", fmt.Sprintf("unsupported expiration %q", s))
	}
	return TTLFromMillis(ms)
}
