package store

import (
	"fmt"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically in time
// order. All values are UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t the way it is stored.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
