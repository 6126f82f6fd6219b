package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/source"
)

// stringField returns the first non-empty string value among the given
// keys. JSON numbers are formatted back to their literal form so
// numeric native ids survive decoding.
func stringField(raw source.RawRecord, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		switch typed := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				return trimmed
			}
		case json.Number:
			return typed.String()
		case float64:
			return strconv.FormatFloat(typed, 'f', -1, 64)
		}
	}
	return ""
}

// firstString returns the first element of an array-valued field, as
// the study_fields API shapes every field.
func firstString(raw source.RawRecord, key string) string {
	value, ok := raw[key]
	if !ok {
		return ""
	}
	items, ok := value.([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	first, _ := items[0].(string)
	return strings.TrimSpace(first)
}

func allStrings(raw source.RawRecord, key string) []string {
	value, ok := raw[key]
	if !ok {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		entry, ok := item.(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// authorNames reads either a flat all_authors string list or the
// esummary authors shape (a list of objects with a name key).
func authorNames(raw source.RawRecord) []string {
	if names := allStrings(raw, "all_authors"); len(names) > 0 {
		return names
	}

	value, ok := raw["authors"]
	if !ok {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func splitList(joined string) []string {
	if strings.TrimSpace(joined) == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// timeLayouts covers the date shapes the sources emit: RFC3339 from
// the newswire, "January 2, 2006" from trial registries, compact
// YYYYMMDD from regulatory submissions, and the loose year-first
// forms publication indexes use.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"20060102",
	"01/02/2006",
	"2006 Jan 2",
	"2006 Jan",
	"2 Jan 2006",
	"Jan 2006",
	"2006",
}

func parseFlexibleTime(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
