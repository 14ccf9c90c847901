package slides

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	appcfg "github.com/slidecraft/server/internal/config"
	"github.com/slidecraft/server/internal/models"
	"go.uber.org/zap"
)

var (
	ErrPromptRequired    = errors.New("prompt is required")
	ErrProviderBusy      = errors.New("llm provider is rate limited")
	ErrGenerationTimeout = errors.New("llm request timed out")
)

// PresentationFinder looks up a user's most recent deck for a prompt.
// It returns nil without error when there is none.
type PresentationFinder interface {
	FindByPrompt(userID, prompt string) (*models.PresentationModel, error)
}

// Result is the outcome of one text generation.
type Result struct {
	Slides    models.Slides `json:"slides"`
	FromCache bool          `json:"from_cache"`
	// Raw is the unmodified model answer; empty on a cache hit.
	Raw string `json:"-"`
}

type Service struct {
	llm     Completer
	finder  PresentationFinder
	params  appcfg.LLMConfig
	timeout time.Duration
	logger  *zap.Logger
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger.Named("slides")
		}
	}
}

// WithTimeout bounds a single LLM call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewService(llm Completer, finder PresentationFinder, params appcfg.LLMConfig, opts ...Option) *Service {
	s := &Service{
		llm:     llm,
		finder:  finder,
		params:  params,
		timeout: params.Timeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Minute
	}
	return s
}

// Model reports the configured text model.
func (s *Service) Model() string {
	if s.llm == nil {
		return ""
	}
	return s.llm.Model()
}

// Generate returns five slides for the prompt. With checkExisting the
// caller's stored deck for the same prompt is returned instead of calling
// the model.
func (s *Service) Generate(ctx context.Context, userID, prompt string, checkExisting bool) (*Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}

	if checkExisting && s.finder != nil {
		existing, err := s.finder.FindByPrompt(userID, prompt)
		if err != nil {
			s.logger.Warn("existing presentation lookup failed", zap.Error(err))
		} else if existing != nil && len(existing.Slides) > 0 {
			return &Result{Slides: existing.Slides.Clone(), FromCache: true}, nil
		}
	}

	if s.llm == nil {
		return nil, errors.New("llm provider is not configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	raw, err := s.llm.Complete(callCtx, CompletionRequest{
		System:      systemInstruction,
		Prompt:      buildPrompt(prompt),
		MaxTokens:   s.params.MaxTokens,
		Temperature: s.params.Temperature,
		TopP:        s.params.TopP,
		TopK:        s.params.TopK,
	})
	if err != nil {
		classified := classifyError(callCtx, err)
		s.logger.Warn("slide generation failed",
			zap.String("model", s.llm.Model()),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		return nil, classified
	}

	slides, err := parseSlides(raw)
	if err != nil {
		s.logger.Warn("unusable model output",
			zap.String("model", s.llm.Model()),
			zap.String("raw", truncateText(raw, 500)),
			zap.Error(err),
		)
		return nil, err
	}
	s.logger.Info("slides generated",
		zap.String("model", s.llm.Model()),
		zap.Duration("elapsed", time.Since(started)),
	)
	return &Result{Slides: slides, Raw: raw}, nil
}

func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	if upstreamStatus(err) == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrProviderBusy, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "quota") || strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return fmt.Errorf("%w: %v", ErrProviderBusy, err)
	}
	return err
}

// UserMessage maps a generation error to the text shown to API clients.
func UserMessage(err error) (int, string) {
	switch {
	case errors.Is(err, ErrPromptRequired):
		return http.StatusBadRequest, "Prompt is required"
	case errors.Is(err, ErrProviderBusy):
		return http.StatusTooManyRequests, "The AI service is currently busy. Please try again later."
	case errors.Is(err, ErrGenerationTimeout):
		return http.StatusRequestTimeout, "Request took too long to process. Please try again with a simpler prompt."
	case errors.Is(err, ErrSlideCount), errors.Is(err, ErrInvalidResponse):
		return http.StatusInternalServerError, "Failed to parse AI response"
	default:
		return http.StatusInternalServerError, "Failed to generate presentation"
	}
}
