package parse

import (
	"regexp"
	"strings"
)

var (
	hashtagRe       = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)
	hashtagLineRe   = regexp.MustCompile(`^(?:\s*#[\p{L}\p{N}_]+[,\s]*)+$`)
	platformLabelRe = regexp.MustCompile(`^\s*(?:[-*]\s*)?(?:\*\*|__)?([A-Za-z /()]+?)(?:\*\*|__)?\s*(?:post)?\s*[:\-–]\s*(.*)$`)
)

var platformAliases = map[string]string{
	"facebook":  "facebook",
	"fb":        "facebook",
	"twitter":   "twitter",
	"x":         "twitter",
	"x/twitter": "twitter",
	"twitter/x": "twitter",
	"instagram": "instagram",
	"ig":        "instagram",
	"linkedin":  "linkedin",
	"tiktok":    "tiktok",
	"threads":   "threads",
	"youtube":   "youtube",
}

func parseSocial(text, platform string) ([]Entry, error) {
	if items, ok := tryJSON(text, "posts", "socialPosts", "social_posts"); ok {
		out := make([]Entry, 0, len(items))
		for _, item := range items {
			body := stringField(item, "text", "content", "post")
			if body == "" {
				continue
			}
			tags := stringList(item["hashtags"])
			if len(tags) == 0 {
				tags = extractHashtags(body)
			}
			out = append(out, socialEntry(normalizePlatform(stringField(item, "platform"), platform), body, tags))
		}
		if len(out) == 0 {
			return nil, failure("no_entries", "no social posts found")
		}
		return out, nil
	}

	var out []Entry
	for _, block := range splitBlocks(text) {
		target := platform
		lines := strings.Split(block, "\n")
		if m := platformLabelRe.FindStringSubmatch(lines[0]); m != nil {
			if p, ok := platformAliases[strings.ToLower(strings.TrimSpace(m[1]))]; ok {
				target = p
				lines[0] = m[2]
			}
		}
		var kept []string
		var tags []string
		for _, line := range lines {
			if hashtagLineRe.MatchString(line) {
				tags = append(tags, extractHashtags(line)...)
				continue
			}
			kept = append(kept, line)
		}
		body := strings.TrimSpace(strings.Join(kept, "\n"))
		if body == "" {
			continue
		}
		tags = append(extractHashtags(body), tags...)
		out = append(out, socialEntry(target, body, dedupe(tags)))
	}
	if len(out) == 0 {
		return nil, failure("no_entries", "no social posts found")
	}
	return out, nil
}

func socialEntry(platform, text string, tags []string) Entry {
	clean := make([]any, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag != "" {
			clean = append(clean, tag)
		}
	}
	return Entry{"platform": platform, "text": text, "hashtags": clean}
}

func normalizePlatform(raw, fallback string) string {
	if p, ok := platformAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return p
	}
	if raw = strings.ToLower(strings.TrimSpace(raw)); raw != "" {
		return raw
	}
	return fallback
}

func extractHashtags(text string) []string {
	matches := hashtagRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// splitBlocks separates paragraphs on blank lines and drops separator rules.
func splitBlocks(text string) []string {
	var blocks []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "---" || trimmed == "***" {
			flush()
			continue
		}
		current = append(current, trimmed)
	}
	flush()
	return blocks
}
