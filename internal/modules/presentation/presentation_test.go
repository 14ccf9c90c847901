package presentation

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/slidecraft/server/internal/database"
	"github.com/slidecraft/server/internal/middleware"
	"github.com/slidecraft/server/internal/models"
	"github.com/slidecraft/server/internal/pkg/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db)
}

func deck(titles ...string) models.Slides {
	out := make(models.Slides, len(titles))
	for i, title := range titles {
		out[i] = models.Slide{Title: title, Content: "Point one. Point two.", ImagePrompt: title + " art"}
	}
	return out
}

func TestFindByPromptReturnsNewestOwnedDeck(t *testing.T) {
	svc := newService(t)

	_, err := svc.Create("u1", "Solar power", deck("old"))
	assert.Equal(t, err, nil)
	time.Sleep(5 * time.Millisecond)
	newer, err := svc.Create("u1", " Solar power ", deck("new"))
	assert.Equal(t, err, nil)
	_, _ = svc.Create("u2", "Solar power", deck("other"))

	got, err := svc.FindByPrompt("u1", "Solar power")
	assert.Equal(t, err, nil)
	assert.Equal(t, got.ID, newer.ID)
	assert.Equal(t, got.Slides[0].Title, "new")

	got, err = svc.FindByPrompt("u3", "Solar power")
	assert.Equal(t, err, nil)
	assert.Equal(t, got == nil, true)

	got, _ = svc.FindByPrompt("u1", "solar power")
	assert.Equal(t, got == nil, true)
}

func TestUpdateSlidesAndDeleteAreScoped(t *testing.T) {
	svc := newService(t)
	p, _ := svc.Create("u1", "Oceans", deck("a", "b"))

	slides := p.Slides.Clone()
	slides[0].ImageURL = "data:image/png;base64,AAA"
	assert.Equal(t, errors.Is(svc.UpdateSlides("u2", p.ID, slides), gorm.ErrRecordNotFound), true)
	assert.Equal(t, svc.UpdateSlides("u1", p.ID, slides), nil)

	got, _ := svc.Get("u1", p.ID)
	assert.Equal(t, got.Slides[0].ImageURL, "data:image/png;base64,AAA")
	assert.Equal(t, got.Slides.MissingImages(), []int{1})

	other, _ := svc.Get("u2", p.ID)
	assert.Equal(t, other == nil, true)

	assert.Equal(t, errors.Is(svc.Delete("u2", p.ID), gorm.ErrRecordNotFound), true)
	assert.Equal(t, svc.Delete("u1", p.ID), nil)
	got, _ = svc.Get("u1", p.ID)
	assert.Equal(t, got == nil, true)
}

func TestListAndHistory(t *testing.T) {
	svc := newService(t)
	for _, prompt := range []string{"a", "b", "c"} {
		_, _ = svc.Create("u1", prompt, deck(prompt))
		_, _ = svc.CreateHistory("u1", prompt, `[{"title":"`+prompt+`"}]`, []string{prompt + " art"})
		time.Sleep(2 * time.Millisecond)
	}
	_, _ = svc.Create("u2", "x", deck("x"))

	items, pag, err := svc.List("u1", pagination.New(1, 2))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(items), 2)
	assert.Equal(t, items[0].Prompt, "c")
	assert.Equal(t, pag.Total, int64(3))
	assert.Equal(t, pag.HasNextPage, true)

	hist, err := svc.History("u1", 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(hist), 3)
	assert.Equal(t, hist[0].UserPrompt, "c")
	assert.Equal(t, []string(hist[0].ImagePrompts), []string{"c art"})

	hist, _ = svc.History("u1", 1)
	assert.Equal(t, len(hist), 1)
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newService(t)
	p, _ := svc.Create("u1", "Volcanoes", deck("one"))
	_, _ = svc.CreateHistory("u1", "Volcanoes", "[]", nil)

	r := gin.New()
	fakeAuth := func(c *gin.Context) {
		c.Set(middleware.ContextKeyUserID, c.GetHeader("X-User"))
		c.Next()
	}
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), fakeAuth)

	do := func(method, path, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/api/v1/presentations", "u1")
	assert.Equal(t, w.Code, http.StatusOK)
	var list struct {
		Data       []presentationResponse `json:"data"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &list), nil)
	assert.Equal(t, len(list.Data), 1)
	assert.Equal(t, list.Data[0].MissingImages, 1)

	w = do(http.MethodGet, "/api/v1/presentations/lookup?prompt="+url.QueryEscape("Volcanoes"), "u1")
	assert.Equal(t, w.Code, http.StatusOK)
	w = do(http.MethodGet, "/api/v1/presentations/lookup?prompt=nothing", "u1")
	assert.Equal(t, w.Code, http.StatusNotFound)
	w = do(http.MethodGet, "/api/v1/presentations/lookup", "u1")
	assert.Equal(t, w.Code, http.StatusBadRequest)

	assert.Equal(t, do(http.MethodGet, "/api/v1/presentations/"+p.ID, "u2").Code, http.StatusNotFound)
	assert.Equal(t, do(http.MethodGet, "/api/v1/presentations/"+p.ID, "u1").Code, http.StatusOK)

	w = do(http.MethodGet, "/api/v1/history", "u1")
	assert.Equal(t, w.Code, http.StatusOK)
	var hist struct {
		Data []historyResponse `json:"data"`
	}
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &hist), nil)
	assert.Equal(t, len(hist.Data), 1)
	assert.Equal(t, hist.Data[0].ImagePrompts, []string{})

	assert.Equal(t, do(http.MethodDelete, "/api/v1/presentations/"+p.ID, "u2").Code, http.StatusNotFound)
	assert.Equal(t, do(http.MethodDelete, "/api/v1/presentations/"+p.ID, "u1").Code, http.StatusNoContent)
}
