// Package safety holds input guardrails, sanitizers and per-key rate limits.
package safety

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// PolicyMessage is returned for blocked requests.
const PolicyMessage = "This request is outside safe-use policy for KidsClubPlans."

const (
	MaxActivityTitle       = 200
	MaxActivityDescription = 2000
	MaxScheduleTitle       = 200
	MaxSupplyItem          = 100
)

var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsexual\b`),
	regexp.MustCompile(`\bporn\b`),
	regexp.MustCompile(`\bexplicit\b`),
	regexp.MustCompile(`\bself[- ]?harm\b`),
	regexp.MustCompile(`\bsuicide\b`),
	regexp.MustCompile(`\bkill\b`),
	regexp.MustCompile(`\bweapon\b`),
	regexp.MustCompile(`\bdrugs?\b`),
	regexp.MustCompile(`\bhow to hack\b`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeText collapses whitespace runs and trims.
func NormalizeText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// CheckInput reports whether a message is allowed. When it is not, the
// returned reason is PolicyMessage.
func CheckInput(message string) (bool, string) {
	text := strings.ToLower(message)
	for _, p := range blockedPatterns {
		if p.MatchString(text) {
			return false, PolicyMessage
		}
	}
	return true, ""
}

// SanitizeText strips HTML markup and control characters, trims and cuts to
// maxLen runes (0 = unlimited).
func SanitizeText(s string, maxLen int) string {
	if strings.ContainsAny(s, "<&") {
		s = stripHTML(s)
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if maxLen > 0 {
		if r := []rune(s); len(r) > maxLen {
			s = strings.TrimSpace(string(r[:maxLen]))
		}
	}
	return s
}

// SanitizeActivityTitle cleans a single-line activity title.
func SanitizeActivityTitle(s string) string {
	return NormalizeText(SanitizeText(s, MaxActivityTitle))
}

// SanitizeActivityDescription cleans multi-line activity text.
func SanitizeActivityDescription(s string) string {
	return SanitizeText(s, MaxActivityDescription)
}

// SanitizeScheduleTitle cleans a schedule title.
func SanitizeScheduleTitle(s string) string {
	return NormalizeText(SanitizeText(s, MaxScheduleTitle))
}

// SanitizeSupplies cleans a supply list, dropping empty entries.
func SanitizeSupplies(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = NormalizeText(SanitizeText(item, MaxSupplyItem)); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// stripHTML returns the text content of s, dropping script and style bodies.
func stripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawTag(name) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawTag(name) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawTag(name []byte) bool {
	switch string(name) {
	case "script", "style", "iframe", "object":
		return true
	}
	return false
}
