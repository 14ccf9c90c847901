package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	appcfg "github.com/slidecraft/server/internal/config"
	"go.uber.org/zap"
)

// FailureMessage is reported when every model failed for both prompts.
const FailureMessage = "Failed to generate image with all models"

var ErrPromptRequired = errors.New("prompt is required")

// ObjectStore persists image bytes and returns a public URL.
type ObjectStore interface {
	ObjectKey(prompt string) string
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Result is what the image endpoint returns for one prompt.
type Result struct {
	ImageURL   string `json:"image_url"`
	Model      string `json:"model,omitempty"`
	Simplified bool   `json:"simplified,omitempty"`
	FromCache  bool   `json:"from_cache,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the result carries the placeholder.
func (r *Result) Failed() bool { return r == nil || r.Error != "" }

type Service struct {
	gen         Generator
	models      []appcfg.ImageModel
	cache       Cache
	store       ObjectStore
	placeholder string
	logger      *zap.Logger
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger.Named("images")
		}
	}
}

// WithObjectStore uploads generated images instead of inlining them.
func WithObjectStore(store ObjectStore) Option {
	return func(s *Service) { s.store = store }
}

func NewService(gen Generator, cfg appcfg.ImageConfig, cache Cache, opts ...Option) *Service {
	if cache == nil {
		cache = NewMemoryCache(cfg.CacheTTL)
	}
	s := &Service{
		gen: gen,
		models: lo.Filter(cfg.Models, func(m appcfg.ImageModel, _ int) bool {
			return strings.TrimSpace(m.Name) != ""
		}),
		cache:       cache,
		placeholder: cfg.Placeholder,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Placeholder is the image reference used when generation fails.
func (s *Service) Placeholder() string { return s.placeholder }

// Models lists the configured model names in the order they are tried.
func (s *Service) Models() []string {
	return lo.Map(s.models, func(m appcfg.ImageModel, _ int) string { return m.Name })
}

// Cache exposes the backing cache for maintenance jobs.
func (s *Service) Cache() Cache { return s.cache }

// Generate returns an image for prompt. Model failures never surface as an
// error: the result then carries the placeholder and Error is set.
func (s *Service) Generate(ctx context.Context, prompt string) (*Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrPromptRequired
	}

	if n, err := s.cache.Sweep(ctx); err != nil {
		s.logger.Warn("image cache sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Debug("image cache swept", zap.Int("removed", n))
	}

	if hit := s.lookup(ctx, prompt); hit != nil {
		return &Result{ImageURL: hit.ImageURL, Model: hit.Model, Simplified: hit.Simplified, FromCache: true}, nil
	}

	url, model, errs := s.tryModels(ctx, prompt, prompt)
	if errs == nil {
		s.remember(ctx, prompt, Entry{ImageURL: url, Model: model})
		return &Result{ImageURL: url, Model: model}, nil
	}

	simplified := SimplifyPrompt(prompt)
	if simplified != "" && simplified != prompt && ctx.Err() == nil {
		if hit := s.lookup(ctx, simplified); hit != nil {
			entry := Entry{ImageURL: hit.ImageURL, Model: hit.Model, Simplified: true}
			s.remember(ctx, prompt, entry)
			return &Result{ImageURL: entry.ImageURL, Model: entry.Model, Simplified: true, FromCache: true}, nil
		}

		url, model, serrs := s.tryModels(ctx, prompt, simplified)
		if serrs == nil {
			s.remember(ctx, simplified, Entry{ImageURL: url, Model: model})
			s.remember(ctx, prompt, Entry{ImageURL: url, Model: model, Simplified: true})
			return &Result{ImageURL: url, Model: model, Simplified: true}, nil
		}
		errs = multierror.Append(errs, serrs)
	}

	s.logger.Warn("image generation failed",
		zap.String("prompt", prompt),
		zap.Error(errs),
	)
	return &Result{ImageURL: s.placeholder, Error: FailureMessage}, nil
}

// tryModels walks the model list for text and returns the first image.
// keyPrompt names the upload object so both prompt variants share it.
func (s *Service) tryModels(ctx context.Context, keyPrompt, text string) (string, string, error) {
	if s.gen == nil || len(s.models) == 0 {
		return "", "", errors.New("no image models configured")
	}
	var errs *multierror.Error
	for _, m := range s.models {
		if err := ctx.Err(); err != nil {
			return "", "", multierror.Append(errs, err)
		}
		data, err := s.callModel(ctx, m, text)
		if err != nil {
			s.logger.Debug("image model failed", zap.String("model", m.Name), zap.Error(err))
			errs = multierror.Append(errs, err)
			continue
		}
		url, err := s.publish(ctx, keyPrompt, data)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		return url, m.Name, nil
	}
	return "", "", errs.ErrorOrNil()
}

func (s *Service) callModel(ctx context.Context, m appcfg.ImageModel, text string) ([]byte, error) {
	callCtx := ctx
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	started := time.Now()
	data, err := s.gen.Generate(callCtx, text, m.Name)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("model %s timed out after %s", m.Name, time.Since(started).Round(time.Millisecond))
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("model %s: %w", m.Name, errEmptyImage)
	}
	return data, nil
}

// publish turns image bytes into a URL: an uploaded object when storage is
// configured, a data URL otherwise.
func (s *Service) publish(ctx context.Context, prompt string, data []byte) (string, error) {
	mime := detectImageType(data)
	if s.store != nil {
		url, err := s.store.Upload(ctx, s.store.ObjectKey(prompt), data, mime)
		if err == nil {
			return url, nil
		}
		s.logger.Warn("image upload failed, inlining", zap.Error(err))
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (s *Service) lookup(ctx context.Context, prompt string) *Entry {
	e, err := s.cache.Get(ctx, prompt)
	if err != nil {
		s.logger.Warn("image cache read failed", zap.Error(err))
		return nil
	}
	if e == nil || e.ImageURL == "" {
		return nil
	}
	return e
}

func (s *Service) remember(ctx context.Context, prompt string, e Entry) {
	if err := s.cache.Set(ctx, prompt, e); err != nil {
		s.logger.Warn("image cache write failed", zap.Error(err))
	}
}

func detectImageType(data []byte) string {
	if mime := http.DetectContentType(data); strings.HasPrefix(mime, "image/") {
		return mime
	}
	return "image/png"
}
