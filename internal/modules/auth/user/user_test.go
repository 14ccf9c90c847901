package user

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/slidecraft/server/internal/database"
	"github.com/slidecraft/server/internal/middleware"
	jwtpkg "github.com/slidecraft/server/internal/pkg/jwt"
	"gorm.io/gorm/logger"
)

func TestValidateRegister(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		field    string
		message  string
	}{
		{"missing email", " ", "Secret1!", "email", "Email is required"},
		{"bad email", "nope", "Secret1!", "email", "Please enter a valid email address"},
		{"short", "a@b.co", "Se1!", "password", "Password must be at least 8 characters"},
		{"no upper", "a@b.co", "secret12!", "password", "Password must contain at least one uppercase letter"},
		{"no lower", "a@b.co", "SECRET12!", "password", "Password must contain at least one lowercase letter"},
		{"no digit", "a@b.co", "Secretss!", "password", "Password must contain at least one number"},
		{"no special", "a@b.co", "Secret123", "password", "Password must contain at least one special character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := validateRegister(&RegisterDTO{Email: tt.email, Password: tt.password})
			if verr == nil {
				t.Fatalf("expected validation error")
			}
			assert.Equal(t, verr.Field, tt.field)
			assert.Equal(t, verr.Message, tt.message)
		})
	}

	assert.Equal(t, validateRegister(&RegisterDTO{Email: "Ada@Example.com ", Password: "Secret12!"}) == nil, true)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtpkg.SetSecret("user-test")

	db, err := database.Open("sqlite", ":memory:", logger.Silent)
	assert.Equal(t, err, nil)
	assert.Equal(t, database.Migrate(db), nil)

	svc := NewService(db)
	svc.failDelay = 0
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"), middleware.Auth(db))
	return r
}

func do(r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterLoginLogout(t *testing.T) {
	r := newRouter(t)
	creds := gin.H{"email": "ada@example.com", "password": "Secret12!"}

	w := do(r, http.MethodPost, "/api/v1/auth/register", "", creds)
	assert.Equal(t, w.Code, http.StatusCreated)

	w = do(r, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "ADA@example.com", "password": "Secret12!"})
	assert.Equal(t, w.Code, http.StatusConflict)

	w = do(r, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "bob@example.com", "password": "weak"})
	assert.Equal(t, w.Code, http.StatusBadRequest)
	var verr map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &verr)
	assert.Equal(t, verr["field"], "password")

	w = do(r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "wrong"})
	assert.Equal(t, w.Code, http.StatusForbidden)

	w = do(r, http.MethodPost, "/api/v1/auth/login", "", creds)
	assert.Equal(t, w.Code, http.StatusOK)
	var login struct {
		Token string `json:"token"`
		User  struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"user"`
	}
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &login), nil)
	assert.Equal(t, login.User.Email, "ada@example.com")
	assert.Equal(t, login.User.Name, "ada")

	w = do(r, http.MethodGet, "/api/v1/auth/me", login.Token, nil)
	assert.Equal(t, w.Code, http.StatusOK)

	w = do(r, http.MethodGet, "/api/v1/auth/sessions", login.Token, nil)
	assert.Equal(t, w.Code, http.StatusOK)
	var sessions struct {
		Data []sessionResponse `json:"data"`
	}
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &sessions), nil)
	assert.Equal(t, len(sessions.Data), 1)
	assert.Equal(t, sessions.Data[0].Current, true)

	w = do(r, http.MethodPost, "/api/v1/auth/logout", login.Token, nil)
	assert.Equal(t, w.Code, http.StatusNoContent)

	w = do(r, http.MethodGet, "/api/v1/auth/me", login.Token, nil)
	assert.Equal(t, w.Code, http.StatusUnauthorized)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	r := newRouter(t)
	creds := gin.H{"email": "ada@example.com", "password": "Secret12!"}
	assert.Equal(t, do(r, http.MethodPost, "/api/v1/auth/register", "", creds).Code, http.StatusCreated)

	token := func() string {
		var out struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(do(r, http.MethodPost, "/api/v1/auth/login", "", creds).Body.Bytes(), &out)
		return out.Token
	}
	first, second := token(), token()

	w := do(r, http.MethodPatch, "/api/v1/auth/password", first, gin.H{"old_password": "Secret12!", "new_password": "Secret12!"})
	assert.Equal(t, w.Code, http.StatusUnprocessableEntity)

	w = do(r, http.MethodPatch, "/api/v1/auth/password", first, gin.H{"old_password": "Secret12!", "new_password": "Another34#"})
	assert.Equal(t, w.Code, http.StatusNoContent)

	assert.Equal(t, do(r, http.MethodGet, "/api/v1/auth/me", first, nil).Code, http.StatusOK)
	assert.Equal(t, do(r, http.MethodGet, "/api/v1/auth/me", second, nil).Code, http.StatusUnauthorized)
}
