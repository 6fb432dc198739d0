package parse

import (
	"regexp"
	"strings"
)

var (
	listItemRe   = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+)$`)
	boldThemeRe  = regexp.MustCompile(`^(?:\*\*|__)([^*_]+?)(?:\*\*|__)\s*[:\-–—]?\s*(.+)$`)
	themeLabelRe = regexp.MustCompile(`(?i)^theme\s*:\s*(.+)$`)
)

func parsePrayer(text string) ([]Entry, error) {
	if items, ok := tryJSON(text, "prayerPoints", "prayer_points", "points"); ok {
		out := make([]Entry, 0, len(items))
		for _, item := range items {
			body := stringField(item, "text", "prayer", "point")
			if body == "" {
				continue
			}
			out = append(out, prayerEntry(len(out)+1, body, stringField(item, "theme")))
		}
		if len(out) == 0 {
			return nil, failure("no_entries", "no prayer points found")
		}
		return out, nil
	}

	lines := strings.Split(text, "\n")
	var items []string
	for _, line := range lines {
		if m := listItemRe.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) == 0 {
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				items = append(items, line)
			}
		}
	}

	out := make([]Entry, 0, len(items))
	var pendingTheme string
	for _, item := range items {
		if m := themeLabelRe.FindStringSubmatch(item); m != nil {
			pendingTheme = strings.TrimSpace(m[1])
			continue
		}
		theme := pendingTheme
		body := item
		if m := boldThemeRe.FindStringSubmatch(item); m != nil {
			theme = strings.TrimSpace(m[1])
			body = strings.TrimSpace(m[2])
		}
		if body == "" {
			continue
		}
		out = append(out, prayerEntry(len(out)+1, body, theme))
		pendingTheme = ""
	}
	if len(out) == 0 {
		return nil, failure("no_entries", "no prayer points found")
	}
	return out, nil
}

func prayerEntry(order int, text, theme string) Entry {
	entry := Entry{"order": order, "text": text}
	if theme != "" {
		entry["theme"] = theme
	}
	return entry
}
