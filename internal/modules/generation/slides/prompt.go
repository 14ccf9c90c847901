package slides

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/slidecraft/server/internal/models"
)

const (
	maxTitleRunes       = 50
	maxImagePromptRunes = 100
)

var (
	ErrInvalidResponse = errors.New("invalid response format")
	ErrSlideCount      = errors.New("model did not return exactly 5 slides")

	fencePattern         = regexp.MustCompile("```(?:json|JSON)?")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

const systemInstruction = "You write concise, well-structured presentation slides and reply with raw JSON only."

func buildPrompt(topic string) string {
	return fmt.Sprintf(`Create exactly %d slides about: "%s"

Return ONLY a JSON array in this exact format, with no other text or markdown:
[
  {
    "title": "string (max 50 chars)",
    "content": "string (minimum 4-5 bullet points, make each point concise and informative)",
    "imagePrompt": "string (max 100 chars)"
  }
]

Content guidelines:
- Each slide should have 4-5 key points
- Points should be clear and concise
- Ensure logical flow between points
- End each point with a period
- Include relevant facts and examples
- Avoid single-word bullet points

The response must be valid JSON with exactly %d slides.`, models.SlideCount, topic, models.SlideCount)
}

// cleanModelJSON strips code fences and prose around the JSON array and
// repairs the trailing commas models like to emit.
func cleanModelJSON(raw string) string {
	text := fencePattern.ReplaceAllString(raw, "")
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = trailingCommaPattern.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

type rawSlide struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	ImagePrompt      string `json:"imagePrompt"`
	ImagePromptSnake string `json:"image_prompt"`
}

func parseSlides(raw string) (models.Slides, error) {
	var items []rawSlide
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(items) != models.SlideCount {
		return nil, fmt.Errorf("%w: got %d", ErrSlideCount, len(items))
	}

	out := make(models.Slides, 0, len(items))
	for i, item := range items {
		title := strings.TrimSpace(item.Title)
		content := strings.TrimSpace(item.Content)
		if title == "" || content == "" {
			return nil, fmt.Errorf("%w: slide %d is missing title or content", ErrInvalidResponse, i+1)
		}
		imagePrompt := strings.TrimSpace(item.ImagePrompt)
		if imagePrompt == "" {
			imagePrompt = strings.TrimSpace(item.ImagePromptSnake)
		}
		out = append(out, models.Slide{
			Title:       truncateRunes(title, maxTitleRunes),
			Content:     content,
			ImagePrompt: truncateRunes(imagePrompt, maxImagePromptRunes),
		})
	}
	return out, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
