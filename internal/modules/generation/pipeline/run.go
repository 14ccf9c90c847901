package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/slidecraft/server/internal/models"
	"github.com/slidecraft/server/internal/modules/generation/slides"
	"github.com/slidecraft/server/internal/pkg/taskqueue"
	"go.uber.org/zap"
)

// runFailure is a run error that already carries its user-facing message.
type runFailure struct {
	msg string
	err error
}

func (f *runFailure) Error() string { return f.msg }
func (f *runFailure) Unwrap() error { return f.err }

// imageProgress is the task progress snapshot during the image stage.
type imageProgress struct {
	Stage     string `json:"stage"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

func (s *Service) launch(taskID, taskType string, payload Payload) {
	ctx, cancel := context.WithCancel(s.base)
	s.mu.Lock()
	s.running[taskID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, taskID)
			s.mu.Unlock()
			cancel()
		}()
		s.execute(ctx, taskID, taskType, payload)
	}()
}

func (s *Service) execute(ctx context.Context, taskID, taskType string, payload Payload) {
	log := s.logger.With(zap.String("task_id", taskID), zap.String("type", taskType))
	// Bookkeeping outlives the run context so cancelled runs still record
	// their partial result.
	bg := context.Background()

	_, err := s.tasks.Update(bg, taskID, func(t *taskqueue.Task) error {
		if t.Status != taskqueue.TaskPending {
			return errNotPending
		}
		t.Status = taskqueue.TaskRunning
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNotPending) {
			log.Warn("failed to mark run as running", zap.Error(err))
		}
		s.publish(taskID, Event{Type: EventCancelled, Message: msgCancelled})
		return
	}
	s.publish(taskID, Event{Type: EventStarted, Message: payload.Prompt})

	var result *RunResult
	switch taskType {
	case TaskFillImages:
		result, err = s.runFill(ctx, taskID, payload)
	default:
		result, err = s.runGenerate(ctx, taskID, payload)
	}

	switch {
	case ctx.Err() != nil:
		s.finish(taskID, taskqueue.TaskCancelled, result, msgCancelled)
		ev := Event{Type: EventCancelled, Message: msgCancelled}
		if result != nil {
			ev.PresentationID = result.PresentationID
		}
		s.publish(taskID, ev)
		log.Info("run cancelled")
	case err != nil:
		msg := err.Error()
		s.finish(taskID, taskqueue.TaskFailed, result, msg)
		s.publish(taskID, Event{Type: EventFailed, Message: msg})
		log.Warn("run failed", zap.Error(errors.Unwrap(err)), zap.String("message", msg))
	default:
		s.finish(taskID, taskqueue.TaskCompleted, result, "")
		s.publish(taskID, Event{Type: EventCompleted, PresentationID: result.PresentationID})
		log.Info("run completed", zap.String("presentation_id", result.PresentationID))
	}
}

// finish records the final state. A run cancelled by the user keeps the
// cancelled status even if it managed to complete afterwards.
func (s *Service) finish(taskID string, status taskqueue.TaskStatus, result *RunResult, msg string) {
	var encoded json.RawMessage
	if result != nil {
		encoded, _ = json.Marshal(result)
	}
	_, err := s.tasks.Update(context.Background(), taskID, func(t *taskqueue.Task) error {
		if encoded != nil {
			t.Result = encoded
		}
		if t.Status == taskqueue.TaskCancelled {
			return nil
		}
		t.Status = status
		t.Error = msg
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to record run result", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (s *Service) runGenerate(ctx context.Context, taskID string, payload Payload) (*RunResult, error) {
	textCtx, cancel := context.WithTimeout(ctx, s.textTimeout)
	res, err := s.slides.Generate(textCtx, payload.UserID, payload.Prompt, false)
	textErr := textCtx.Err()
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, textFailure(err, textErr)
	}
	deck := res.Slides.Clone()
	s.publish(taskID, Event{Type: EventSlides, Total: len(deck), Slides: deck})

	formatted, _ := json.MarshalIndent(deck, "", "  ")
	if _, err := s.store.CreateHistory(payload.UserID, payload.Prompt, string(formatted), deck.ImagePrompts()); err != nil {
		s.logger.Warn("failed to save generation history", zap.String("task_id", taskID), zap.Error(err))
	}

	stats := s.fillSlides(ctx, taskID, deck, fillable(deck))

	// Persist even when cancelled midway so finished images are kept.
	p, err := s.store.Create(payload.UserID, payload.Prompt, deck)
	if err != nil {
		return nil, &runFailure{msg: "Failed to save presentation", err: err}
	}
	stats.PresentationID = p.ID
	return stats, nil
}

func (s *Service) runFill(ctx context.Context, taskID string, payload Payload) (*RunResult, error) {
	p, err := s.store.Get(payload.UserID, payload.PresentationID)
	if err != nil {
		return nil, &runFailure{msg: "Failed to load presentation", err: err}
	}
	if p == nil {
		return nil, &runFailure{msg: "Presentation not found", err: ErrPresentationNotFound}
	}

	deck := p.Slides.Clone()
	stats := s.fillSlides(ctx, taskID, deck, fillable(deck))
	stats.PresentationID = p.ID
	if stats.Images+stats.Failed == 0 {
		return stats, nil
	}
	if err := s.store.UpdateSlides(payload.UserID, p.ID, deck); err != nil {
		return stats, &runFailure{msg: "Failed to save presentation", err: err}
	}
	return stats, nil
}

// fillSlides generates images for deck[indexes] one at a time, pausing
// between requests. It stops early when ctx is cancelled.
func (s *Service) fillSlides(ctx context.Context, taskID string, deck models.Slides, indexes []int) *RunResult {
	stats := &RunResult{}
	total := len(indexes)
	placeholder := s.images.Placeholder()

	for n, i := range indexes {
		if ctx.Err() != nil {
			break
		}
		if n > 0 && s.imageDelay > 0 {
			if !sleepCtx(ctx, s.imageDelay) {
				break
			}
		}

		s.publish(taskID, Event{Type: EventImageStarted, Index: i, Total: total})
		res, err := s.images.Generate(ctx, deck[i].ImagePrompt)
		if ctx.Err() != nil {
			break
		}

		if err != nil || res.Failed() {
			deck[i].ImageURL = placeholder
			deck[i].ImageModel = ""
			deck[i].ImageSimplified = false
			stats.Failed++
			reason := "placeholder returned"
			if err != nil {
				reason = err.Error()
			}
			s.logger.Debug("slide image failed", zap.String("task_id", taskID), zap.Int("index", i), zap.String("reason", reason))
		} else {
			deck[i].ImageURL = res.ImageURL
			deck[i].ImageModel = res.Model
			deck[i].ImageSimplified = res.Simplified
			stats.Images++
		}

		slide := deck[i]
		s.publish(taskID, Event{Type: EventImageDone, Index: i, Total: total, Slide: &slide})
		if err := s.tasks.SetProgress(context.Background(), taskID, imageProgress{Stage: "images", Completed: n + 1, Total: total}); err != nil {
			s.logger.Debug("failed to store progress", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	return stats
}

func textFailure(err, deadline error) error {
	switch {
	case errors.Is(err, slides.ErrGenerationTimeout), errors.Is(deadline, context.DeadlineExceeded):
		return &runFailure{msg: msgTimeout, err: err}
	case errors.Is(err, slides.ErrProviderBusy):
		return &runFailure{msg: msgRateLimited, err: err}
	default:
		_, msg := slides.UserMessage(err)
		return &runFailure{msg: msg, err: err}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
