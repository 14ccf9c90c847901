package pipeline

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/slidecraft/server/internal/models"
	redisc "github.com/slidecraft/server/internal/pkg/redis"
	"go.uber.org/zap"
)

const (
	EventStarted      = "started"
	EventSlides       = "slides"
	EventImageStarted = "image_started"
	EventImageDone    = "image_done"
	EventCompleted    = "completed"
	EventFailed       = "failed"
	EventCancelled    = "cancelled"
)

// Event is one progress notification of a run.
type Event struct {
	Type           string        `json:"type"`
	TaskID         string        `json:"task_id"`
	Index          int           `json:"index"`
	Total          int           `json:"total"`
	Message        string        `json:"message,omitempty"`
	PresentationID string        `json:"presentation_id,omitempty"`
	Slide          *models.Slide `json:"slide,omitempty"`
	Slides         models.Slides `json:"slides,omitempty"`
}

// Final reports whether no further events follow.
func (e Event) Final() bool {
	return e.Type == EventCompleted || e.Type == EventFailed || e.Type == EventCancelled
}

func channel(taskID string) string { return redisc.Key("generation", taskID) }

func (s *Service) publish(taskID string, ev Event) {
	if s.rc == nil {
		return
	}
	ev.TaskID = taskID
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rc.Publish(context.Background(), channel(taskID), string(b)); err != nil {
		s.logger.Debug("progress publish failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// Subscription delivers the events of one run.
type Subscription struct {
	ps     *redis.PubSub
	Events <-chan Event
}

func (s *Subscription) Close() error { return s.ps.Close() }

// Subscribe listens to a run's events. The subscription is confirmed before
// it is returned, so events published afterwards are never missed.
func (s *Service) Subscribe(ctx context.Context, taskID string) (*Subscription, error) {
	ps := s.rc.Subscribe(ctx, channel(taskID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return &Subscription{ps: ps, Events: out}, nil
}
