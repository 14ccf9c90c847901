package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/slidecraft/server/internal/database"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/models"
	"github.com/slidecraft/server/internal/modules/generation/images"
	"github.com/slidecraft/server/internal/modules/generation/slides"
	"github.com/slidecraft/server/internal/modules/presentation"
	redisc "github.com/slidecraft/server/internal/pkg/redis"
	"github.com/slidecraft/server/internal/pkg/taskqueue"
	"gorm.io/gorm/logger"
)

const placeholder = "/placeholder.png"

type fakeSlides struct {
	release chan struct{}
	err     error
}

func (f *fakeSlides) Generate(ctx context.Context, _, prompt string, _ bool) (*slides.Result, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	deck := make(models.Slides, models.SlideCount)
	for i := range deck {
		deck[i] = models.Slide{
			Title:       fmt.Sprintf("%s %d", prompt, i+1),
			Content:     "First point. Second point.",
			ImagePrompt: fmt.Sprintf("image %d", i+1),
		}
	}
	return &slides.Result{Slides: deck, Raw: "[]"}, nil
}

type fakeImages struct {
	mu      sync.Mutex
	fail    map[string]bool
	calls   []string
	times   []time.Time
	blockOn int
	blocked chan struct{}
}

func (f *fakeImages) Placeholder() string { return placeholder }

func (f *fakeImages) Generate(ctx context.Context, prompt string) (*images.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.times = append(f.times, time.Now())
	n := len(f.calls)
	f.mu.Unlock()

	if f.blockOn == n {
		close(f.blocked)
		<-ctx.Done()
		return &images.Result{ImageURL: placeholder, Error: images.FailureMessage}, nil
	}
	if f.fail[prompt] {
		return &images.Result{ImageURL: placeholder, Error: images.FailureMessage}, nil
	}
	return &images.Result{ImageURL: "data:image/png;base64," + prompt, Model: "model-a"}, nil
}

func (f *fakeImages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	svc   *Service
	store *presentation.Service
	tasks *taskqueue.Service
}

func newHarness(t *testing.T, sg SlideGenerator, ig ImageGenerator, opts ...Option) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redisc.Connect("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	db, err := database.Open("sqlite", ":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tasks := taskqueue.NewService(rc, time.Hour)
	store := presentation.NewService(db)
	opts = append([]Option{WithImageDelay(time.Millisecond), WithTextTimeout(time.Second)}, opts...)
	svc := NewService(tasks, rc, sg, ig, store, opts...)
	t.Cleanup(func() {
		svc.Shutdown()
		_ = rc.Close()
	})
	return &harness{svc: svc, store: store, tasks: tasks}
}

func (h *harness) task(t *testing.T, id string) (*taskqueue.Task, RunResult) {
	t.Helper()
	task, err := h.tasks.GetByID(context.Background(), id)
	if err != nil || task == nil {
		t.Fatalf("task %s: %v", id, err)
	}
	var res RunResult
	if len(task.Result) > 0 {
		_ = json.Unmarshal(task.Result, &res)
	}
	return task, res
}

func TestGenerateRunBuildsDeck(t *testing.T) {
	ig := &fakeImages{fail: map[string]bool{"image 3": true}}
	h := newHarness(t, &fakeSlides{}, ig)
	ctx := context.Background()

	started, err := h.svc.Start(ctx, "u1", " Coral reefs ", true)
	assert.Equal(t, err, nil)
	assert.Equal(t, started.Created, true)
	h.svc.Wait()

	task, res := h.task(t, started.Task.ID)
	assert.Equal(t, task.Status, taskqueue.TaskCompleted)
	assert.Equal(t, res.Images, 4)
	assert.Equal(t, res.Failed, 1)
	assert.Equal(t, ig.callCount(), 5)

	p, err := h.store.Get("u1", res.PresentationID)
	assert.Equal(t, err, nil)
	assert.Equal(t, p.Prompt, "Coral reefs")
	assert.Equal(t, len(p.Slides), 5)
	assert.Equal(t, p.Slides[0].ImageURL, "data:image/png;base64,image 1")
	assert.Equal(t, p.Slides[0].ImageModel, "model-a")
	assert.Equal(t, p.Slides[2].ImageURL, placeholder)

	hist, _ := h.store.History("u1", 0)
	assert.Equal(t, len(hist), 1)
	assert.Equal(t, len(hist[0].ImagePrompts), 5)
	assert.Equal(t, strings.Contains(hist[0].ModelResponse, "\n  {"), true)
}

func TestStartReusesExistingDeck(t *testing.T) {
	ig := &fakeImages{}
	h := newHarness(t, &fakeSlides{}, ig)
	ctx := context.Background()

	complete := models.Slides{{Title: "a", Content: "b.", ImagePrompt: "p", ImageURL: "https://cdn/x.png"}}
	_, _ = h.store.Create("u1", "Deserts", complete)
	res, err := h.svc.Start(ctx, "u1", "Deserts", true)
	assert.Equal(t, err, nil)
	assert.Equal(t, res.Task == nil, true)
	assert.Equal(t, res.Presentation.Prompt, "Deserts")

	partial := models.Slides{
		{Title: "a", Content: "b.", ImagePrompt: "p1", ImageURL: "https://cdn/x.png"},
		{Title: "c", Content: "d.", ImagePrompt: "p2"},
		{Title: "e", Content: "f."},
	}
	p, _ := h.store.Create("u1", "Forests", partial)
	res, err = h.svc.Start(ctx, "u1", "Forests", true)
	assert.Equal(t, err, nil)
	assert.Equal(t, res.Task.Type, TaskFillImages)
	h.svc.Wait()

	filled, _ := h.store.Get("u1", p.ID)
	assert.Equal(t, filled.Slides[1].ImageURL, "data:image/png;base64,p2")
	assert.Equal(t, filled.Slides[2].ImageURL, "")
	assert.Equal(t, ig.callCount(), 1)

	_, err = h.svc.FillImages(ctx, "u1", p.ID)
	assert.Equal(t, err, ErrNoMissingImages)
	_, err = h.svc.FillImages(ctx, "u2", p.ID)
	assert.Equal(t, err, ErrPresentationNotFound)
}

func TestStartDeduplicatesConcurrentRuns(t *testing.T) {
	sg := &fakeSlides{release: make(chan struct{})}
	h := newHarness(t, sg, &fakeImages{})
	ctx := context.Background()

	first, err := h.svc.Start(ctx, "u1", "Tides", false)
	assert.Equal(t, err, nil)
	second, err := h.svc.Start(ctx, "u1", "Tides", false)
	assert.Equal(t, err, nil)
	assert.Equal(t, second.Created, false)
	assert.Equal(t, second.Task.ID, first.Task.ID)

	other, _ := h.svc.Start(ctx, "u2", "Tides", false)
	assert.Equal(t, other.Created, true)

	close(sg.release)
	h.svc.Wait()

	_, err = h.svc.Start(ctx, "u1", "", false)
	assert.Equal(t, err, slides.ErrPromptRequired)
}

func TestCancelKeepsPartialDeck(t *testing.T) {
	ig := &fakeImages{blockOn: 2, blocked: make(chan struct{})}
	h := newHarness(t, &fakeSlides{}, ig)
	ctx := context.Background()

	started, _ := h.svc.Start(ctx, "u1", "Glaciers", false)
	select {
	case <-ig.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("image stage never reached the second slide")
	}

	_, err := h.svc.Cancel(ctx, "u2", started.Task.ID)
	assert.Equal(t, err, taskqueue.ErrTaskNotFound)

	_, err = h.svc.Cancel(ctx, "u1", started.Task.ID)
	assert.Equal(t, err, nil)
	h.svc.Wait()

	task, res := h.task(t, started.Task.ID)
	assert.Equal(t, task.Status, taskqueue.TaskCancelled)
	assert.NotEqual(t, res.PresentationID, "")

	p, _ := h.store.Get("u1", res.PresentationID)
	assert.Equal(t, p.Slides[0].HasImage(), true)
	assert.Equal(t, p.Slides.MissingImages(), []int{1, 2, 3, 4})

	_, err = h.svc.Cancel(ctx, "u1", started.Task.ID)
	assert.Equal(t, err, taskqueue.ErrNotCancellable)
}

func TestFailedRunsAndRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("rate limited", func(t *testing.T) {
		h := newHarness(t, &fakeSlides{err: fmt.Errorf("%w: 429", slides.ErrProviderBusy)}, &fakeImages{})
		started, _ := h.svc.Start(ctx, "u1", "Comets", false)
		h.svc.Wait()

		task, _ := h.task(t, started.Task.ID)
		assert.Equal(t, task.Status, taskqueue.TaskFailed)
		assert.Equal(t, task.Error, msgRateLimited)

		_, err := h.svc.Retry(ctx, "u1", started.Task.ID)
		assert.Equal(t, err, ErrRateLimited)
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t, &fakeSlides{err: fmt.Errorf("%w: slow", slides.ErrGenerationTimeout)}, &fakeImages{})
		started, _ := h.svc.Start(ctx, "u1", "Comets", false)
		h.svc.Wait()

		task, _ := h.task(t, started.Task.ID)
		assert.Equal(t, task.Error, msgTimeout)

		retried, err := h.svc.Retry(ctx, "u1", started.Task.ID)
		assert.Equal(t, err, nil)
		assert.Equal(t, retried.Created, true)
		assert.NotEqual(t, retried.Task.ID, started.Task.ID)
		h.svc.Wait()

		_, err = h.svc.Retry(ctx, "u2", started.Task.ID)
		assert.Equal(t, err, taskqueue.ErrTaskNotFound)
	})

	t.Run("completed runs are not retried", func(t *testing.T) {
		h := newHarness(t, &fakeSlides{}, &fakeImages{})
		started, _ := h.svc.Start(ctx, "u1", "Comets", false)
		h.svc.Wait()
		_, err := h.svc.Retry(ctx, "u1", started.Task.ID)
		assert.Equal(t, err, ErrNotRetryable)
	})
}

func TestSubscribeStreamsProgress(t *testing.T) {
	sg := &fakeSlides{release: make(chan struct{})}
	h := newHarness(t, sg, &fakeImages{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started, _ := h.svc.Start(ctx, "u1", "Auroras", false)
	sub, err := h.svc.Subscribe(ctx, started.Task.ID)
	assert.Equal(t, err, nil)
	defer sub.Close()
	close(sg.release)

	var got []Event
collect:
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				break collect
			}
			// started may be published before the subscription exists
			if ev.Type == EventStarted {
				continue
			}
			got = append(got, ev)
			if ev.Final() {
				break collect
			}
		case <-ctx.Done():
			t.Fatal("no final event")
		}
	}
	assert.Equal(t, len(got) > 0, true)
	assert.Equal(t, got[0].Type, EventSlides)
	assert.Equal(t, len(got[0].Slides), 5)
	last := got[len(got)-1]
	assert.Equal(t, last.Type, EventCompleted)
	assert.NotEqual(t, last.PresentationID, "")

	done := 0
	for _, ev := range got {
		if ev.Type == EventImageDone {
			assert.Equal(t, ev.Total, 5)
			done++
		}
	}
	assert.Equal(t, done, 5)
	h.svc.Wait()
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newHarness(t, &fakeSlides{}, &fakeImages{})
	r := gin.New()
	fakeAuth := func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, c.GetHeader("X-User"))
		c.Next()
	}
	NewHandler(h.svc).RegisterRoutes(r.Group("/api/v1"), fakeAuth)
	srv := httptest.NewServer(r)
	defer srv.Close()

	do := func(method, path, user, body string) *http.Response {
		req, _ := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User", user)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := do(http.MethodPost, "/api/v1/generations", "u1", `{"prompt":""}`)
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)

	resp = do(http.MethodPost, "/api/v1/generations", "u1", `{"prompt":"Rainforests"}`)
	assert.Equal(t, resp.StatusCode, http.StatusAccepted)
	var accepted struct {
		Task    taskqueue.Task `json:"task"`
		Created bool           `json:"created"`
	}
	assert.Equal(t, json.NewDecoder(resp.Body).Decode(&accepted), nil)
	assert.Equal(t, accepted.Created, true)
	h.svc.Wait()

	id := accepted.Task.ID
	assert.Equal(t, do(http.MethodGet, "/api/v1/generations/"+id, "u2", "").StatusCode, http.StatusNotFound)
	assert.Equal(t, do(http.MethodGet, "/api/v1/generations/"+id, "u1", "").StatusCode, http.StatusOK)
	assert.Equal(t, do(http.MethodPost, "/api/v1/generations/"+id+"/cancel", "u1", "").StatusCode, http.StatusBadRequest)
	assert.Equal(t, do(http.MethodPost, "/api/v1/generations/"+id+"/retry", "u1", "").StatusCode, http.StatusBadRequest)

	resp = do(http.MethodGet, "/api/v1/generations", "u1", "")
	var list struct {
		Data []taskqueue.Task `json:"data"`
	}
	assert.Equal(t, json.NewDecoder(resp.Body).Decode(&list), nil)
	assert.Equal(t, len(list.Data), 1)

	// A finished run streams its snapshot and closes.
	resp = do(http.MethodGet, "/api/v1/generations/"+id+"/events", "u1", "")
	assert.Equal(t, resp.Header.Get("Content-Type"), "text/event-stream")
	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(t, scanner.Scan(), true)
	assert.Equal(t, scanner.Text(), "event: snapshot")

	// Same prompt again reuses the complete deck.
	resp = do(http.MethodPost, "/api/v1/generations", "u1", `{"prompt":"Rainforests"}`)
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var res RunResult
	task, _ := h.tasks.GetByID(context.Background(), id)
	_ = json.Unmarshal(task.Result, &res)
	resp = do(http.MethodPost, "/api/v1/presentations/"+res.PresentationID+"/fill-images", "u1", "")
	assert.Equal(t, resp.StatusCode, http.StatusConflict)
	resp = do(http.MethodPost, "/api/v1/presentations/missing/fill-images", "u1", "")
	assert.Equal(t, resp.StatusCode, http.StatusNotFound)
}

func testDeck() models.Slides {
	deck := make(models.Slides, models.SlideCount)
	for i := range deck {
		deck[i] = models.Slide{Title: fmt.Sprintf("Slide %d", i+1), Content: "Point.", ImagePrompt: fmt.Sprintf("image %d", i+1)}
	}
	return deck
}

func TestFillSlidesPausesBetweenRequests(t *testing.T) {
	const delay = 60 * time.Millisecond
	ig := &fakeImages{}
	h := newHarness(t, &fakeSlides{}, ig, WithImageDelay(delay))

	deck := testDeck()
	stats := h.svc.fillSlides(context.Background(), "timing", deck, []int{0, 1, 2, 3, 4})
	finished := time.Now()

	assert.Equal(t, stats.Images, 5)
	ig.mu.Lock()
	times := append([]time.Time(nil), ig.times...)
	ig.mu.Unlock()
	assert.Equal(t, len(times), 5)
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < delay {
			t.Fatalf("gap %d was %s, want at least %s", i, gap, delay)
		}
	}
	if tail := finished.Sub(times[len(times)-1]); tail >= delay {
		t.Fatalf("loop paused %s after the last request", tail)
	}
}

func TestFillSlidesStopsWhenCancelledDuringPause(t *testing.T) {
	ig := &fakeImages{}
	h := newHarness(t, &fakeSlides{}, ig, WithImageDelay(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan *RunResult, 1)
	deck := testDeck()
	go func() { done <- h.svc.fillSlides(ctx, "cancel-pause", deck, []int{0, 1, 2, 3, 4}) }()

	deadline := time.Now().Add(2 * time.Second)
	for ig.callCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("first image request never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case stats := <-done:
		assert.Equal(t, stats.Images+stats.Failed <= 1, true)
	case <-time.After(time.Second):
		t.Fatal("loop kept sleeping after cancel")
	}
	assert.Equal(t, ig.callCount(), 1)
	assert.Equal(t, deck[1].ImageURL, "")
}

func TestEventStreamClosesOnShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newHarness(t, &fakeSlides{release: make(chan struct{})}, &fakeImages{})
	r := gin.New()
	fakeAuth := func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, "u1")
		c.Next()
	}
	NewHandler(h.svc).RegisterRoutes(r.Group("/api/v1"), fakeAuth)
	srv := httptest.NewServer(r)
	defer srv.Close()

	started, err := h.svc.Start(context.Background(), "u1", "Glaciers", false)
	assert.Equal(t, err, nil)

	resp, err := http.Get(srv.URL + "/api/v1/generations/" + started.Task.ID + "/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	assert.Equal(t, err, nil)
	assert.Equal(t, line, "event: snapshot\n")

	closed := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, reader)
		close(closed)
	}()
	h.svc.Shutdown()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream still open after shutdown")
	}
}
