package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// SlideCount is the number of slides in a generated deck.
const SlideCount = 5

// Slide is one generated unit of a deck. Image fields stay empty until
// image generation for the slide completes.
type Slide struct {
	Title           string `json:"title"`
	Content         string `json:"content"`
	ImagePrompt     string `json:"image_prompt,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	ImageModel      string `json:"image_model,omitempty"`
	ImageSimplified bool   `json:"image_simplified,omitempty"`
}

// HasImage reports whether the slide already carries an image reference.
func (s Slide) HasImage() bool { return strings.TrimSpace(s.ImageURL) != "" }

// Slides is stored as a JSON document.
type Slides []Slide

// MissingImages returns the indexes of slides without an image.
func (s Slides) MissingImages() []int {
	var out []int
	for i, slide := range s {
		if !slide.HasImage() {
			out = append(out, i)
		}
	}
	return out
}

// ImagePrompts returns the non-empty image prompts in slide order.
func (s Slides) ImagePrompts() []string {
	out := make([]string, 0, len(s))
	for _, slide := range s {
		if p := strings.TrimSpace(slide.ImagePrompt); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a copy that can be mutated independently.
func (s Slides) Clone() Slides {
	if s == nil {
		return nil
	}
	out := make(Slides, len(s))
	copy(out, s)
	return out
}

func (s Slides) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Slide(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *Slides) Scan(value interface{}) error {
	if s == nil {
		return fmt.Errorf("models.Slides: Scan on nil pointer")
	}
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = Slides{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("models.Slides: unsupported Scan type %T", value)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		*s = Slides{}
		return nil
	}
	var out []Slide
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("models.Slides: %w", err)
	}
	*s = out
	return nil
}

func (Slides) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return textColumnType(db, "JSONB")
}

// PresentationModel is a persisted prompt plus its ordered slides.
type PresentationModel struct {
	Base
	UserID string `json:"user_id" gorm:"type:char(36);index;not null"`
	Prompt string `json:"prompt"  gorm:"type:text;not null"`
	Slides Slides `json:"slides"`
}

func (PresentationModel) TableName() string { return "presentations" }

// GenerationHistoryModel records one text generation: the prompt, the
// raw model response and the image prompts it produced.
type GenerationHistoryModel struct {
	Base
	UserID        string      `json:"user_id"        gorm:"type:char(36);index;not null"`
	UserPrompt    string      `json:"user_prompt"    gorm:"type:text;not null"`
	ModelResponse string      `json:"model_response" gorm:"type:text"`
	ImagePrompts  StringArray `json:"image_prompts"`
}

func (GenerationHistoryModel) TableName() string { return "generation_histories" }
