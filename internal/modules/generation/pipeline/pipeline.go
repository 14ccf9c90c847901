package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/slidecraft/server/internal/models"
	"github.com/slidecraft/server/internal/modules/generation/images"
	"github.com/slidecraft/server/internal/modules/generation/slides"
	"github.com/slidecraft/server/internal/pkg/pagination"
	redisc "github.com/slidecraft/server/internal/pkg/redis"
	"github.com/slidecraft/server/internal/pkg/response"
	"github.com/slidecraft/server/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

const (
	TaskGenerate   = "presentation.generate"
	TaskFillImages = "presentation.fill_images"

	defaultTextTimeout = 3 * time.Minute
	defaultImageDelay  = 2 * time.Second
)

// User-facing failure messages.
const (
	msgTimeout     = "The request timed out. Please try again."
	msgRateLimited = "Rate limit exceeded. Please try again later."
	msgCancelled   = "cancelled by user"
)

var (
	ErrPresentationNotFound = errors.New("presentation not found")
	ErrNoMissingImages      = errors.New("all slides already have images")
	ErrNotRetryable         = errors.New("only failed or cancelled runs can be retried")
	ErrRateLimited          = errors.New("run failed on a rate limit")

	errNotPending = errors.New("task is no longer pending")
)

// SlideGenerator produces the text of a deck.
type SlideGenerator interface {
	Generate(ctx context.Context, userID, prompt string, checkExisting bool) (*slides.Result, error)
}

// ImageGenerator produces one slide image.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*images.Result, error)
	Placeholder() string
}

// Store persists decks and generation history.
type Store interface {
	FindByPrompt(userID, prompt string) (*models.PresentationModel, error)
	Get(userID, id string) (*models.PresentationModel, error)
	Create(userID, prompt string, slides models.Slides) (*models.PresentationModel, error)
	UpdateSlides(userID, id string, slides models.Slides) error
	CreateHistory(userID, prompt, modelResponse string, imagePrompts []string) (*models.GenerationHistoryModel, error)
}

// Payload is stored with every run.
type Payload struct {
	UserID         string `json:"user_id"`
	Prompt         string `json:"prompt"`
	PresentationID string `json:"presentation_id,omitempty"`
}

// RunResult is the task result of a finished or cancelled run.
type RunResult struct {
	PresentationID string `json:"presentation_id"`
	Images         int    `json:"images"`
	Failed         int    `json:"failed_images"`
}

// StartResult is either a queued run or an existing complete deck.
type StartResult struct {
	Task         *taskqueue.Task
	Presentation *models.PresentationModel
	Created      bool
}

// Service runs deck generations in-process and tracks them as tasks.
type Service struct {
	tasks  *taskqueue.Service
	rc     *redisc.Client
	slides SlideGenerator
	images ImageGenerator
	store  Store

	textTimeout time.Duration
	imageDelay  time.Duration
	logger      *zap.Logger

	base    context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger.Named("pipeline")
		}
	}
}

// WithTextTimeout bounds the text stage of a run.
func WithTextTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.textTimeout = d
		}
	}
}

// WithImageDelay sets the pause between consecutive image requests.
func WithImageDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.imageDelay = d
		}
	}
}

func NewService(tasks *taskqueue.Service, rc *redisc.Client, sg SlideGenerator, ig ImageGenerator, store Store, opts ...Option) *Service {
	base, stop := context.WithCancel(context.Background())
	s := &Service{
		tasks:       tasks,
		rc:          rc,
		slides:      sg,
		images:      ig,
		store:       store,
		textTimeout: defaultTextTimeout,
		imageDelay:  defaultImageDelay,
		logger:      zap.NewNop(),
		base:        base,
		stop:        stop,
		running:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shutdown cancels every in-flight run and waits for them to record their
// partial results.
func (s *Service) Shutdown() {
	s.stop()
	s.wg.Wait()
}

// Done is closed once Shutdown has been called.
func (s *Service) Done() <-chan struct{} { return s.base.Done() }

// Wait blocks until all runs started so far have finished.
func (s *Service) Wait() { s.wg.Wait() }

// Start begins a generation for prompt. With reuseExisting an existing deck
// for the same prompt is returned as is, or completed when it still lacks
// images.
func (s *Service) Start(ctx context.Context, userID, prompt string, reuseExisting bool) (*StartResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, slides.ErrPromptRequired
	}

	if reuseExisting {
		existing, err := s.store.FindByPrompt(userID, prompt)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if len(fillable(existing.Slides)) == 0 {
				return &StartResult{Presentation: existing}, nil
			}
			return s.enqueue(ctx, TaskFillImages, Payload{UserID: userID, Prompt: existing.Prompt, PresentationID: existing.ID})
		}
	}

	return s.enqueue(ctx, TaskGenerate, Payload{UserID: userID, Prompt: prompt})
}

// FillImages starts a run that generates the images a stored deck is missing.
func (s *Service) FillImages(ctx context.Context, userID, presentationID string) (*StartResult, error) {
	p, err := s.store.Get(userID, presentationID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPresentationNotFound
	}
	if len(fillable(p.Slides)) == 0 {
		return nil, ErrNoMissingImages
	}
	return s.enqueue(ctx, TaskFillImages, Payload{UserID: userID, Prompt: p.Prompt, PresentationID: p.ID})
}

func (s *Service) enqueue(ctx context.Context, taskType string, payload Payload) (*StartResult, error) {
	task, created, err := s.tasks.Enqueue(ctx, taskType, payload, dedupFor(taskType, payload), payload.UserID)
	if err != nil {
		return nil, err
	}
	if created {
		s.launch(task.ID, taskType, payload)
	}
	return &StartResult{Task: task, Created: created}, nil
}

// dedupFor keeps one user from running the same deck twice at once.
func dedupFor(taskType string, p Payload) string {
	if taskType == TaskFillImages {
		return p.UserID + ":" + p.PresentationID
	}
	return p.UserID + ":" + p.Prompt
}

// Get returns userID's run or nil.
func (s *Service) Get(ctx context.Context, userID, taskID string) (*taskqueue.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil || task == nil {
		return nil, err
	}
	if task.GroupKey != userID {
		return nil, nil
	}
	return task, nil
}

// List returns userID's runs, newest first.
func (s *Service) List(ctx context.Context, userID string, q pagination.Query, status taskqueue.TaskStatus) ([]*taskqueue.Task, response.Pagination, error) {
	items, total, err := s.tasks.List(ctx, taskqueue.ListFilter{
		Page:   q.Page,
		Size:   q.Size,
		Group:  userID,
		Status: status,
	})
	if err != nil {
		return nil, response.Pagination{}, err
	}
	return items, pagination.Meta(total, q), nil
}

// Cancel stops a pending or running run. Work finished so far is kept.
func (s *Service) Cancel(ctx context.Context, userID, taskID string) (*taskqueue.Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, taskqueue.ErrTaskNotFound
	}
	updated, err := s.tasks.Cancel(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cancel := s.running[taskID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return updated, nil
}

// Retry starts a new run with the payload of a failed or cancelled one.
func (s *Service) Retry(ctx context.Context, userID, taskID string) (*StartResult, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, taskqueue.ErrTaskNotFound
	}
	if task.Status != taskqueue.TaskFailed && task.Status != taskqueue.TaskCancelled {
		return nil, ErrNotRetryable
	}
	if strings.Contains(task.Error, "Rate limit") {
		return nil, ErrRateLimited
	}

	var payload Payload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, err
	}
	if task.Type == TaskFillImages {
		return s.FillImages(ctx, userID, payload.PresentationID)
	}
	return s.enqueue(ctx, TaskGenerate, payload)
}

// fillable lists slides that lack an image but have a prompt to make one.
func fillable(list models.Slides) []int {
	var out []int
	for _, i := range list.MissingImages() {
		if strings.TrimSpace(list[i].ImagePrompt) != "" {
			out = append(out, i)
		}
	}
	return out
}
