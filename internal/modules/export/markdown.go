package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/slidecraft/server/internal/models"
)

// renderMarkdown writes the deck as a markdown document with YAML front
// matter, one section per slide.
func renderMarkdown(p *models.PresentationModel) []byte {
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.WriteString(fmt.Sprintf("title: %q\n", deckTitle(p)))
	sb.WriteString(fmt.Sprintf("id: %s\n", p.ID))
	sb.WriteString(fmt.Sprintf("date: %s\n", p.CreatedAt.Format(time.RFC3339)))
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("# %s\n", deckTitle(p)))

	for i, sl := range p.Slides {
		sb.WriteString(fmt.Sprintf("\n## %d. %s\n\n", i+1, strings.TrimSpace(sl.Title)))
		for _, line := range sentences(sl.Content) {
			sb.WriteString("- " + line + "\n")
		}
		if sl.HasImage() && !strings.HasPrefix(sl.ImageURL, "data:") {
			sb.WriteString(fmt.Sprintf("\n![%s](%s)\n", strings.TrimSpace(sl.ImagePrompt), sl.ImageURL))
		}
	}
	return []byte(sb.String())
}
