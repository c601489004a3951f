package templates

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pdxmph/goopho/pkg/types"
)

// Variables holds all the available template variables
type Variables struct {
	// Identity
	Action      string
	URL         string
	MTime       string
	ItemID      string
	CanonicalID string

	// Content
	DHash    string
	Digest   string
	Format   string
	Distance string
	Error    string
}

var (
	// Match %variable% or %var1|var2|var3%
	templatePattern = regexp.MustCompile(`%([^%]+)%`)
)

// Process renders a template with the given variables
func Process(template string, vars Variables) string {
	result := templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		// Remove the % delimiters
		content := strings.Trim(match, "%")

		// Check if it's a fallback chain
		if strings.Contains(content, "|") {
			parts := strings.Split(content, "|")
			for _, part := range parts {
				value := getVariable(strings.TrimSpace(part), vars)
				if value != "" {
					return value
				}
			}
			return ""
		}

		// Single variable
		return getVariable(content, vars)
	})

	return result
}

// getVariable returns the value of a single variable
func getVariable(name string, vars Variables) string {
	switch name {
	case "action":
		return vars.Action
	case "url":
		return vars.URL
	case "mtime":
		return vars.MTime
	case "item_id":
		return vars.ItemID
	case "canonical_id":
		return vars.CanonicalID
	case "dhash":
		return vars.DHash
	case "md5":
		return vars.Digest
	case "format":
		return vars.Format
	case "distance":
		return vars.Distance
	case "error":
		return vars.Error
	default:
		return ""
	}
}

// BuildVariables creates template variables from a decision
func BuildVariables(d types.DecisionResult) Variables {
	vars := Variables{
		Action: d.Action,
		URL:    d.URL,
		DHash:  d.DHash,
		Digest: d.Digest,
		Format: d.Format,
	}
	if d.Error != nil {
		vars.Error = *d.Error
	}
	if !d.MTime.IsZero() {
		vars.MTime = d.MTime.UTC().Format(time.RFC3339)
	}
	if d.ItemID != 0 {
		vars.ItemID = strconv.FormatInt(d.ItemID, 10)
	}
	if d.CanonicalID != 0 {
		vars.CanonicalID = strconv.FormatInt(d.CanonicalID, 10)
	}
	if d.Distance != nil {
		vars.Distance = strconv.Itoa(*d.Distance)
	}
	return vars
}
