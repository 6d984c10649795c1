package rag

import (
	"fmt"
	"strings"

	"github.com/kidsclubplans/kcp/internal/store"
)

// FormatForPrompt renders the block appended to the system prompt.
func FormatForPrompt(acts []store.Activity) string {
	if len(acts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRelevant activities from database:\n")
	for _, a := range acts {
		title := a.Title
		if title == "" {
			title = "Unknown"
		}
		fmt.Fprintf(&b, "- %s: %s...\n", title, truncate(a.Description, 100))
	}
	return b.String()
}

// FormatForDisplay renders a markdown summary of search results.
func FormatForDisplay(acts []store.Activity) string {
	if len(acts) == 0 {
		return "No matching activities found."
	}
	blocks := make([]string, 0, len(acts))
	for _, a := range acts {
		var b strings.Builder
		fmt.Fprintf(&b, "**%s** (%s)", a.Title, a.Type)
		if a.Score > 0 {
			fmt.Fprintf(&b, " _score %.2f_", a.Score)
		}
		b.WriteString("\n")
		if a.Description != "" {
			b.WriteString(truncate(a.Description, 200))
			if len([]rune(a.Description)) > 200 {
				b.WriteString("...")
			}
			b.WriteString("\n")
		}
		if a.Supplies != "" {
			supplies := truncate(a.Supplies, 100)
			if len([]rune(a.Supplies)) > 100 {
				supplies += "..."
			}
			fmt.Fprintf(&b, "Supplies: %s\n", supplies)
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
