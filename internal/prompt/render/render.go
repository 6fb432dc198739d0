// Package render resolves {{dotted.path}} placeholders in prompt bodies.
//
// A placeholder is required unless it ends in "?" ({{blog.id?}}) or carries a
// default ({{account.settings.tone | warm}}). Missing required paths fail the
// render with TemplateVariableUnresolved.
package render

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/smallbiznis/newsdesk/internal/apperr"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*(\?)?\s*(?:\|\s*([^}]*?))?\s*\}\}`)

// Placeholder is one reference found in a body.
type Placeholder struct {
	Path       string `json:"path"`
	Optional   bool   `json:"optional"`
	HasDefault bool   `json:"hasDefault"`
	Default    string `json:"default,omitempty"`
}

// UnresolvedError lists every required path the context could not satisfy.
type UnresolvedError struct {
	Paths []string
}

func (e *UnresolvedError) Error() string {
	return "unresolved template variables: " + strings.Join(e.Paths, ", ")
}

// Placeholders returns the references in body in order of appearance.
func Placeholders(body string) []Placeholder {
	matches := placeholderRe.FindAllStringSubmatch(body, -1)
	out := make([]Placeholder, 0, len(matches))
	for _, m := range matches {
		out = append(out, toPlaceholder(m))
	}
	return out
}

// Render substitutes every placeholder in body with its value from vars.
func Render(body string, vars map[string]any) (string, error) {
	missing := map[string]struct{}{}
	out := placeholderRe.ReplaceAllStringFunc(body, func(match string) string {
		p := toPlaceholder(placeholderRe.FindStringSubmatch(match))
		value, ok := Lookup(vars, p.Path)
		switch {
		case ok:
			return Format(value)
		case p.HasDefault:
			return p.Default
		case p.Optional:
			return ""
		default:
			missing[p.Path] = struct{}{}
			return match
		}
	})
	if len(missing) > 0 {
		paths := make([]string, 0, len(missing))
		for path := range missing {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		unresolved := &UnresolvedError{Paths: paths}
		return "", &apperr.Error{
			Kind:    apperr.KindTemplateVariableUnresolved,
			Code:    "template_variable_unresolved",
			Message: unresolved.Error(),
			Err:     unresolved,
		}
	}
	return out, nil
}

// Lookup walks a dotted path through nested maps and slices. A key holding
// the full dotted path at the top level takes precedence, so flat test
// variables like {"article.title": "Hope"} resolve too. Nil values count as
// missing.
func Lookup(vars map[string]any, path string) (any, bool) {
	if vars == nil || path == "" {
		return nil, false
	}
	if v, ok := vars[path]; ok && v != nil {
		return v, true
	}

	var current any = vars
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		case []map[string]any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
		if current == nil {
			return nil, false
		}
	}
	return current, true
}

// Format renders a resolved value as prompt text. Lists of scalars are
// joined with commas, other composites are emitted as JSON.
func Format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			switch item.(type) {
			case map[string]any, []any:
				return toJSON(v)
			}
			parts = append(parts, Format(item))
		}
		return strings.Join(parts, ", ")
	default:
		return toJSON(v)
	}
}

func toJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func toPlaceholder(m []string) Placeholder {
	p := Placeholder{Path: m[1], Optional: m[2] == "?"}
	if len(m) > 3 && strings.Contains(m[0], "|") {
		p.HasDefault = true
		p.Default = strings.TrimSpace(m[3])
	}
	return p
}
