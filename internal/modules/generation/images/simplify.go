package images

import (
	"regexp"
	"strings"
)

const maxSimplifiedRunes = 50

var (
	qualityTerms = regexp.MustCompile(`(?i)highly detailed|intricate|photorealistic|cinematic|professional|high quality|4k|8k|uhd`)
	spaces       = regexp.MustCompile(`\s+`)
)

// SimplifyPrompt drops quality boilerplate and shortens the prompt. Terms are
// removed wherever they occur, including inside longer words. Models that
// time out on long prompts often succeed with the short form.
func SimplifyPrompt(prompt string) string {
	out := qualityTerms.ReplaceAllString(prompt, "")
	out = strings.TrimSpace(spaces.ReplaceAllString(out, " "))
	if r := []rune(out); len(r) > maxSimplifiedRunes {
		out = strings.TrimSpace(string(r[:maxSimplifiedRunes]))
	}
	return out
}
