// Package parse turns raw LLM output into contentData entries according to a
// template's parsing method.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/smallbiznis/newsdesk/internal/apperr"
)

const (
	MethodGeneric      = "generic"
	MethodStructured   = "structured"
	MethodJSON         = "json"
	MethodSocialMedia  = "social_media"
	MethodVideoScript  = "video_script"
	MethodPrayerPoints = "prayer_points"
)

// StopReasonLength marks output cut off at maxOutputTokens.
const StopReasonLength = "length"

const defaultPlatform = "facebook"

// Input is one LLM response plus what the template declared about its shape.
type Input struct {
	Method          string
	Text            string
	StopReason      string
	Sections        []string
	DefaultPlatform string
}

// Entry is one element of a GeneratedContent.contentData array.
type Entry = map[string]any

// Parse dispatches on the parsing method. Every failure carries
// KindParseFailure.
func Parse(in Input) ([]Entry, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, failure("empty_response", "response is empty")
	}
	if in.StopReason == StopReasonLength && in.Method != MethodGeneric {
		return nil, ErrTruncated
	}

	switch in.Method {
	case MethodGeneric, "":
		return []Entry{{"text": text}}, nil
	case MethodStructured:
		return parseStructured(text, in.Sections)
	case MethodJSON:
		return parseJSON(text)
	case MethodSocialMedia:
		platform := strings.ToLower(strings.TrimSpace(in.DefaultPlatform))
		if platform == "" {
			platform = defaultPlatform
		}
		return parseSocial(text, platform)
	case MethodVideoScript:
		return parseVideo(text)
	case MethodPrayerPoints:
		return parsePrayer(text)
	default:
		return nil, failure("unknown_parsing_method", "unknown parsing method "+in.Method)
	}
}

// ErrTruncated is returned when a structured response hit the token limit.
var ErrTruncated = apperr.New(apperr.KindParseFailure, "truncated_output", "response was truncated at the token limit")

// IsTruncated reports whether err is a truncation parse failure.
func IsTruncated(err error) bool {
	return apperr.IsKind(err, apperr.KindParseFailure) && apperr.CodeOf(err) == ErrTruncated.Code
}

func failure(code, msg string) error {
	return apperr.New(apperr.KindParseFailure, code, msg)
}

func parseJSON(text string) ([]Entry, error) {
	value, err := decodeStrict(text)
	if err != nil {
		return nil, failure("invalid_json", err.Error())
	}
	switch v := value.(type) {
	case []any:
		out := make([]Entry, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
				continue
			}
			if item != nil {
				out = append(out, Entry{"value": item})
			}
		}
		if len(out) == 0 {
			return nil, failure("no_entries", "json array is empty")
		}
		return out, nil
	case map[string]any:
		return []Entry{v}, nil
	default:
		return []Entry{{"value": v}}, nil
	}
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// stripFences removes a surrounding markdown code fence.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// decodeStrict decodes exactly one JSON value and rejects trailing data.
func decodeStrict(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(stripFences(text)))
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return value, nil
}

type parseError string

func (e parseError) Error() string { return string(e) }

const errTrailingData = parseError("unexpected data after json value")

// tryJSON decodes text as JSON when it looks like JSON. The list key is
// consulted when the top level is an object wrapping the entries.
func tryJSON(text string, listKeys ...string) ([]map[string]any, bool) {
	trimmed := stripFences(text)
	if !strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	value, err := decodeStrict(trimmed)
	if err != nil {
		return nil, false
	}
	var items []any
	switch v := value.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
		for _, key := range listKeys {
			if list, ok := v[key].([]any); ok {
				items = list
				break
			}
		}
	default:
		return nil, false
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		switch obj := item.(type) {
		case map[string]any:
			out = append(out, obj)
		case string:
			out = append(out, map[string]any{"text": obj})
		}
	}
	return out, true
}

func stringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringList(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range list {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '\n' }) {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
