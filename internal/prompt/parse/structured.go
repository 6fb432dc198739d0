package parse

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownHeaderRe = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*#*\s*$`)
	labelHeaderRe    = regexp.MustCompile(`^\s*(?:#{1,6}\s*)?(?:\*\*|__)?\s*([^*_:#][^*_:]*?)\s*(?:\*\*|__)?\s*:?\s*(?:\*\*|__)?\s*$`)
	inlineHeaderRe   = regexp.MustCompile(`^\s*(?:\*\*|__)?([^*_:#][^*_:]*?)(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.+)$`)
	nonKeyRe         = regexp.MustCompile(`[^a-z0-9]+`)
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// parseStructured splits text on the declared section headers. Without
// declared sections every markdown header starts a section. The entry also
// carries the full text and its HTML rendering.
func parseStructured(text string, declared []string) ([]Entry, error) {
	wanted := map[string]string{}
	for _, name := range declared {
		if key := fieldKey(name); key != "" {
			wanted[key] = name
		}
	}

	fields := map[string]*strings.Builder{}
	order := []string{}
	var current *strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if key, rest, ok := sectionHeader(line, wanted); ok {
			if _, seen := fields[key]; !seen {
				fields[key] = &strings.Builder{}
				order = append(order, key)
			}
			current = fields[key]
			if rest != "" {
				current.WriteString(rest)
				current.WriteString("\n")
			}
			continue
		}
		if current != nil {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	if len(order) == 0 {
		return nil, failure("missing_sections", "no section headers found")
	}
	var missing []string
	for key, name := range wanted {
		if _, ok := fields[key]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, failure("missing_sections", "missing sections: "+strings.Join(missing, ", "))
	}

	entry := Entry{"text": text}
	for _, key := range order {
		entry[key] = strings.TrimSpace(fields[key].String())
	}
	if html, err := RenderMarkdown(text); err == nil {
		entry["body_html"] = html
	}
	return []Entry{entry}, nil
}

// sectionHeader reports whether line opens a section. Declared sections may
// also be written inline as "Headline: text", in which case rest holds text.
func sectionHeader(line string, wanted map[string]string) (key, rest string, ok bool) {
	if len(wanted) == 0 {
		m := markdownHeaderRe.FindStringSubmatch(line)
		if m == nil {
			return "", "", false
		}
		key = fieldKey(m[1])
		return key, "", key != ""
	}
	if m := labelHeaderRe.FindStringSubmatch(line); m != nil {
		key = fieldKey(m[1])
		if _, ok := wanted[key]; ok {
			return key, "", true
		}
	}
	if m := inlineHeaderRe.FindStringSubmatch(line); m != nil {
		key = fieldKey(m[1])
		if _, ok := wanted[key]; ok {
			return key, strings.TrimSpace(m[2]), true
		}
	}
	return "", "", false
}

// fieldKey converts a header into a snake_case field name.
func fieldKey(header string) string {
	key := nonKeyRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(header)), "_")
	return strings.Trim(key, "_")
}

// RenderMarkdown converts article markdown into HTML.
func RenderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
