package parse

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	VideoShortForm = "short-form"
	VideoLongForm  = "long-form"

	shortFormMaxSeconds = 60
	spokenWordsPerMin   = 150
)

var (
	videoLabelRe = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*|__)?(title|duration|script|visual suggestions|visuals)(?:\*\*|__)?\s*(?::(?:\*\*|__)?\s*(.*)|(?:\*\*|__)?\s*$)`)
	clockRe      = regexp.MustCompile(`^(\d+):(\d{1,2})$`)
	numberRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(seconds|second|secs|sec|s|minutes|minute|mins|min|m)?`)
	bulletRe     = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
)

// VideoType classifies a script by its duration.
func VideoType(durationSeconds int) string {
	if durationSeconds <= shortFormMaxSeconds {
		return VideoShortForm
	}
	return VideoLongForm
}

func parseVideo(text string) ([]Entry, error) {
	if items, ok := tryJSON(text, "scripts", "videoScripts", "video_scripts"); ok {
		out := make([]Entry, 0, len(items))
		for _, item := range items {
			script := stringField(item, "script", "text", "content")
			if script == "" {
				continue
			}
			duration, ok := parseDuration(item["durationSeconds"])
			if !ok {
				duration, ok = parseDuration(item["duration"])
			}
			if !ok {
				duration = estimateDuration(script)
			}
			out = append(out, videoEntry(stringField(item, "title"), script, duration, stringList(item["visualSuggestions"])))
		}
		if len(out) == 0 {
			return nil, failure("no_entries", "no video scripts found")
		}
		return out, nil
	}

	var (
		title    string
		duration = -1
		script   []string
		visuals  []string
		section  string
	)
	for _, line := range strings.Split(text, "\n") {
		if m := videoLabelRe.FindStringSubmatch(line); m != nil {
			rest := strings.TrimSpace(m[2])
			section = strings.ToLower(m[1])
			switch section {
			case "title":
				title = rest
				section = ""
			case "duration":
				if d, ok := parseDuration(rest); ok {
					duration = d
				}
				section = ""
			case "script":
				if rest != "" {
					script = append(script, rest)
				}
			default:
				section = "visuals"
				if rest != "" {
					visuals = append(visuals, rest)
				}
			}
			continue
		}
		switch section {
		case "visuals":
			if item := strings.TrimSpace(bulletRe.ReplaceAllString(line, "")); item != "" {
				visuals = append(visuals, item)
			}
		default:
			script = append(script, line)
		}
	}

	body := strings.TrimSpace(strings.Join(script, "\n"))
	if body == "" {
		return nil, failure("missing_script", "video script has no script body")
	}
	if duration < 0 {
		duration = estimateDuration(body)
	}
	return []Entry{videoEntry(title, body, duration, visuals)}, nil
}

func videoEntry(title, script string, duration int, visuals []string) Entry {
	list := make([]any, 0, len(visuals))
	for _, v := range visuals {
		list = append(list, v)
	}
	return Entry{
		"title":             title,
		"script":            script,
		"durationSeconds":   duration,
		"type":              VideoType(duration),
		"visualSuggestions": list,
	}
}

// parseDuration accepts seconds as a number, "45s", "2 minutes" or "1:30".
func parseDuration(v any) (int, bool) {
	switch d := v.(type) {
	case float64:
		if d >= 0 {
			return int(math.Round(d)), true
		}
	case int:
		if d >= 0 {
			return d, true
		}
	case string:
		s := strings.ToLower(strings.TrimSpace(d))
		if m := clockRe.FindStringSubmatch(s); m != nil {
			minutes, _ := strconv.Atoi(m[1])
			seconds, _ := strconv.Atoi(m[2])
			return minutes*60 + seconds, true
		}
		if m := numberRe.FindStringSubmatch(s); m != nil {
			n, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return 0, false
			}
			if strings.HasPrefix(m[2], "m") {
				n *= 60
			}
			return int(math.Round(n)), true
		}
	}
	return 0, false
}

func estimateDuration(script string) int {
	words := len(strings.Fields(script))
	return int(math.Ceil(float64(words) * 60 / spokenWordsPerMin))
}
