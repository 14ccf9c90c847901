package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	appcfg "github.com/slidecraft/server/internal/config"
	redisc "github.com/slidecraft/server/internal/pkg/redis"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000fake")

// fakeGenerator answers per model; prompts listed in ok succeed.
type fakeGenerator struct {
	mu    sync.Mutex
	ok    map[string]map[string]bool // model -> prompt -> succeed
	slow  map[string]bool
	calls []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt, model string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model+"|"+prompt)
	slow := f.slow[model]
	ok := f.ok[model][prompt]
	f.mu.Unlock()

	if slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, &StatusError{Model: model, StatusCode: http.StatusServiceUnavailable, Body: "loading"}
	}
	return pngBytes, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() appcfg.ImageConfig {
	return appcfg.ImageConfig{
		Models: []appcfg.ImageModel{
			{Name: "model-a", Timeout: time.Second},
			{Name: "model-b", Timeout: time.Second},
		},
		Placeholder: "/placeholder.png",
		CacheTTL:    time.Hour,
	}
}

func TestSimplifyPrompt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"A cat, highly detailed, 8K, cinematic", "A cat, , ,"},
		{"  Photorealistic   mountain lake at dawn  ", "mountain lake at dawn"},
		{"plain prompt", "plain prompt"},
		{"professionally lit studio", "ly lit studio"},
		{strings.Repeat("word ", 20), strings.TrimSpace(strings.Repeat("word ", 10))},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, SimplifyPrompt(tt.in), tt.want)
		})
	}
}

func TestGenerateUsesFirstWorkingModel(t *testing.T) {
	gen := &fakeGenerator{ok: map[string]map[string]bool{"model-b": {"a fox": true}}}
	svc := NewService(gen, testConfig(), nil)
	ctx := context.Background()

	res, err := svc.Generate(ctx, " a fox ")
	assert.Equal(t, err, nil)
	assert.Equal(t, res.Model, "model-b")
	assert.Equal(t, res.FromCache, false)
	assert.Equal(t, strings.HasPrefix(res.ImageURL, "data:image/png;base64,"), true)
	assert.Equal(t, gen.callCount(), 2)

	res, err = svc.Generate(ctx, "a fox")
	assert.Equal(t, err, nil)
	assert.Equal(t, res.FromCache, true)
	assert.Equal(t, res.Model, "model-b")
	assert.Equal(t, gen.callCount(), 2)
}

func TestGenerateFallsBackToSimplifiedPrompt(t *testing.T) {
	long := "A lighthouse in a storm, highly detailed, cinematic"
	short := SimplifyPrompt(long)
	gen := &fakeGenerator{ok: map[string]map[string]bool{"model-a": {short: true}}}
	svc := NewService(gen, testConfig(), nil)
	ctx := context.Background()

	res, err := svc.Generate(ctx, long)
	assert.Equal(t, err, nil)
	assert.Equal(t, res.Simplified, true)
	assert.Equal(t, res.Model, "model-a")
	assert.Equal(t, res.Failed(), false)

	// Both prompts are now cached.
	hit, _ := svc.Cache().Get(ctx, long)
	assert.Equal(t, hit.Simplified, true)
	hit, _ = svc.Cache().Get(ctx, short)
	assert.NotEqual(t, hit, nil)
	assert.Equal(t, hit.Simplified, false)

	// The short prompt was generated as given, so asking for it directly is
	// not a simplified result.
	res, err = svc.Generate(ctx, short)
	assert.Equal(t, err, nil)
	assert.Equal(t, res.FromCache, true)
	assert.Equal(t, res.Simplified, false)
}

func TestGenerateSimplifiedCacheHit(t *testing.T) {
	long := "A desert at night, photorealistic"
	cache := NewMemoryCache(time.Hour)
	_ = cache.Set(context.Background(), SimplifyPrompt(long), Entry{ImageURL: "https://cdn/x.png", Model: "model-a"})
	gen := &fakeGenerator{}
	svc := NewService(gen, testConfig(), cache)

	res, err := svc.Generate(context.Background(), long)
	assert.Equal(t, err, nil)
	assert.Equal(t, res.FromCache, true)
	assert.Equal(t, res.Simplified, true)
	assert.Equal(t, res.ImageURL, "https://cdn/x.png")
	// Only the original prompt was attempted.
	assert.Equal(t, gen.callCount(), 2)
}

func TestGenerateReturnsPlaceholderWhenAllFail(t *testing.T) {
	gen := &fakeGenerator{}
	svc := NewService(gen, testConfig(), nil)

	res, err := svc.Generate(context.Background(), "volcano, 4k")
	assert.Equal(t, err, nil)
	assert.Equal(t, res.ImageURL, "/placeholder.png")
	assert.Equal(t, res.Error, FailureMessage)
	assert.Equal(t, res.Failed(), true)
	// two models for the original plus two for "volcano,"
	assert.Equal(t, gen.callCount(), 4)

	_, err = svc.Generate(context.Background(), "  ")
	assert.Equal(t, errors.Is(err, ErrPromptRequired), true)
}

func TestGeneratePerModelTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Models[0].Timeout = 20 * time.Millisecond
	gen := &fakeGenerator{
		slow: map[string]bool{"model-a": true},
		ok:   map[string]map[string]bool{"model-b": {"tide pools": true}},
	}
	svc := NewService(gen, cfg, nil)

	start := time.Now()
	res, err := svc.Generate(context.Background(), "tide pools")
	assert.Equal(t, err, nil)
	assert.Equal(t, res.Model, "model-b")
	assert.Equal(t, time.Since(start) < time.Second, true)
}

type fakeStore struct {
	uploaded map[string][]byte
}

func (f *fakeStore) ObjectKey(prompt string) string { return "img/" + prompt + ".png" }

func (f *fakeStore) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.uploaded[key] = data
	return "https://cdn.example.com/" + key, nil
}

func TestGenerateUploadsToObjectStore(t *testing.T) {
	store := &fakeStore{uploaded: map[string][]byte{}}
	gen := &fakeGenerator{ok: map[string]map[string]bool{"model-a": {"owl": true}}}
	svc := NewService(gen, testConfig(), nil, WithObjectStore(store))

	res, err := svc.Generate(context.Background(), "owl")
	assert.Equal(t, err, nil)
	assert.Equal(t, res.ImageURL, "https://cdn.example.com/img/owl.png")
	assert.Equal(t, len(store.uploaded), 1)
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "a", Entry{ImageURL: "x"})
	_ = c.Set(ctx, "b", Entry{ImageURL: "y"})
	now = now.Add(30 * time.Minute)
	_ = c.Set(ctx, "c", Entry{ImageURL: "z"})

	now = now.Add(45 * time.Minute)
	e, _ := c.Get(ctx, "a")
	assert.Equal(t, e == nil, true)

	removed, _ := c.Sweep(ctx)
	assert.Equal(t, removed, 1) // "b"; "a" was dropped by Get
	assert.Equal(t, c.Len(), 1)

	e, _ = c.Get(ctx, "c")
	assert.Equal(t, e.ImageURL, "z")
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisc.Connect("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	c := NewRedisCache(rc, time.Hour)
	ctx := context.Background()

	e, err := c.Get(ctx, "sunset")
	assert.Equal(t, err, nil)
	assert.Equal(t, e == nil, true)

	assert.Equal(t, c.Set(ctx, "sunset", Entry{ImageURL: "data:x", Model: "m", Simplified: true}), nil)
	e, err = c.Get(ctx, "sunset")
	assert.Equal(t, err, nil)
	assert.Equal(t, e.Model, "m")
	assert.Equal(t, e.Simplified, true)

	key := imageKey("sunset")
	assert.Equal(t, strings.HasPrefix(key, "sc:image:"), true)
	assert.Equal(t, mr.TTL(key), time.Hour)

	mr.FastForward(2 * time.Hour)
	e, _ = c.Get(ctx, "sunset")
	assert.Equal(t, e == nil, true)
}

func TestInferenceClient(t *testing.T) {
	var (
		mu                         sync.Mutex
		gotAuth, gotAccept, gotPath string
		gotBody                    inferenceRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		switch gotPath {
		case "/org/good":
			_, _ = w.Write(pngBytes)
		case "/org/empty":
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"Model is loading"}`)
		}
	}))
	defer srv.Close()

	c, err := NewInferenceClient(srv.URL+"/", "hf-token")
	assert.Equal(t, err, nil)
	ctx := context.Background()

	data, err := c.Generate(ctx, "a boat", "org/good")
	assert.Equal(t, err, nil)
	assert.Equal(t, bytes.Equal(data, pngBytes), true)
	mu.Lock()
	assert.Equal(t, gotAuth, "Bearer hf-token")
	assert.Equal(t, gotAccept, "image/png")
	assert.Equal(t, gotPath, "/org/good")
	assert.Equal(t, gotBody.Inputs, "a boat")
	assert.Equal(t, gotBody.Options.WaitForModel, true)
	mu.Unlock()

	_, err = c.Generate(ctx, "a boat", "org/empty")
	assert.Equal(t, errors.Is(err, errEmptyImage), true)

	_, err = c.Generate(ctx, "a boat", "org/busy")
	var se *StatusError
	assert.Equal(t, errors.As(err, &se), true)
	assert.Equal(t, se.StatusCode, http.StatusServiceUnavailable)

	_, err = NewInferenceClient(srv.URL, " ")
	assert.NotEqual(t, err, nil)
}

func TestGenerateImageHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gen := &fakeGenerator{ok: map[string]map[string]bool{"model-a": {"kite": true}}}
	svc := NewService(gen, testConfig(), nil)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), func(c *gin.Context) { c.Next() })

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/generate-image", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"prompt":""}`)
	assert.Equal(t, w.Code, http.StatusBadRequest)
	var failed map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &failed)
	assert.Equal(t, failed["image_url"], "/placeholder.png")

	w = post(`{"prompt":"kite"}`)
	assert.Equal(t, w.Code, http.StatusOK)
	var res Result
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	assert.Equal(t, res.Model, "model-a")

	w = post(`{"prompt":"unknown thing"}`)
	assert.Equal(t, w.Code, http.StatusOK)
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	assert.Equal(t, res.ImageURL, "/placeholder.png")
	assert.Equal(t, res.Error, FailureMessage)
}
