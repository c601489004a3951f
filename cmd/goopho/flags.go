package main

import (
	"fmt"
	"strings"
)

var validActions = []string{"accepted", "duplicate", "already_synced", "opaque", "skipped"}

// actionList is a custom flag type for comma-separated decision actions
type actionList []string

func (a *actionList) String() string {
	return strings.Join(*a, ",")
}

func (a *actionList) Set(value string) error {
	*a = []string{} // Clear existing values
	if value == "" {
		return nil
	}

	// Split by comma and trim whitespace
	for _, action := range strings.Split(value, ",") {
		trimmed := strings.ToLower(strings.TrimSpace(action))
		if trimmed == "" {
			continue
		}
		if !isValidAction(trimmed) {
			return fmt.Errorf("unknown action %q (valid: %s)", trimmed, strings.Join(validActions, ", "))
		}
		*a = append(*a, trimmed)
	}
	return nil
}

func (a *actionList) Type() string {
	return "actions"
}

// Match reports whether action passes the filter. An empty list matches
// everything.
func (a actionList) Match(action string) bool {
	if len(a) == 0 {
		return true
	}
	for _, want := range a {
		if want == action {
			return true
		}
	}
	return false
}

func isValidAction(action string) bool {
	for _, v := range validActions {
		if v == action {
			return true
		}
	}
	return false
}
