package presentation

import (
	"errors"
	"strings"
	"time"

	"github.com/slidecraft/server/internal/models"
	"github.com/slidecraft/server/internal/pkg/pagination"
	"github.com/slidecraft/server/internal/pkg/response"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type presentationResponse struct {
	ID            string        `json:"id"`
	Prompt        string        `json:"prompt"`
	Slides        models.Slides `json:"slides"`
	MissingImages int           `json:"missing_images"`
	Created       time.Time     `json:"created"`
	Modified      *time.Time    `json:"modified"`
}

func toResponse(p *models.PresentationModel) presentationResponse {
	var modified *time.Time
	if !p.UpdatedAt.IsZero() && !p.UpdatedAt.Equal(p.CreatedAt) {
		modifiedAt := p.UpdatedAt
		modified = &modifiedAt
	}
	slides := p.Slides
	if slides == nil {
		slides = models.Slides{}
	}
	return presentationResponse{
		ID:            p.ID,
		Prompt:        p.Prompt,
		Slides:        slides,
		MissingImages: len(p.Slides.MissingImages()),
		Created:       p.CreatedAt,
		Modified:      modified,
	}
}

type historyResponse struct {
	ID            string    `json:"id"`
	UserPrompt    string    `json:"user_prompt"`
	ModelResponse string    `json:"model_response"`
	ImagePrompts  []string  `json:"image_prompts"`
	Created       time.Time `json:"created"`
}

// Service owns presentations and generation history. Every query is scoped
// to the owning user.
type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) owned(userID string) *gorm.DB {
	return s.db.Where("user_id = ?", userID)
}

func (s *Service) Create(userID, prompt string, slides models.Slides) (*models.PresentationModel, error) {
	p := models.PresentationModel{
		UserID: userID,
		Prompt: strings.TrimSpace(prompt),
		Slides: slides.Clone(),
	}
	return &p, s.db.Create(&p).Error
}

// UpdateSlides replaces the slide list of one of userID's presentations.
func (s *Service) UpdateSlides(userID, id string, slides models.Slides) error {
	res := s.db.Model(&models.PresentationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("slides", slides)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByPrompt returns the most recent presentation of userID with exactly
// this prompt, or nil.
func (s *Service) FindByPrompt(userID, prompt string) (*models.PresentationModel, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, nil
	}
	var p models.PresentationModel
	err := s.owned(userID).Where("prompt = ?", prompt).Order("created_at DESC").First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Service) Get(userID, id string) (*models.PresentationModel, error) {
	var p models.PresentationModel
	if err := s.owned(userID).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Service) List(userID string, q pagination.Query) ([]models.PresentationModel, response.Pagination, error) {
	tx := s.db.Model(&models.PresentationModel{}).Where("user_id = ?", userID).Order("created_at DESC")
	var items []models.PresentationModel
	pag, err := pagination.Paginate(tx, q, &items)
	return items, pag, err
}

func (s *Service) Delete(userID, id string) error {
	res := s.owned(userID).Delete(&models.PresentationModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Service) CreateHistory(userID, prompt, modelResponse string, imagePrompts []string) (*models.GenerationHistoryModel, error) {
	h := models.GenerationHistoryModel{
		UserID:        userID,
		UserPrompt:    strings.TrimSpace(prompt),
		ModelResponse: modelResponse,
		ImagePrompts:  models.StringArray(imagePrompts),
	}
	return &h, s.db.Create(&h).Error
}

// History lists userID's generations, newest first.
func (s *Service) History(userID string, limit int) ([]models.GenerationHistoryModel, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var items []models.GenerationHistoryModel
	return items, s.owned(userID).Order("created_at DESC").Limit(limit).Find(&items).Error
}
