package session

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/slidecraft/server/internal/database"
	"github.com/slidecraft/server/internal/models"
	jwtpkg "github.com/slidecraft/server/internal/pkg/jwt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestIssueBindsTokenToSession(t *testing.T) {
	db := openDB(t)
	jwtpkg.SetSecret("session-test")

	token, s, err := Issue(db, "user-1", " 10.0.0.1 ", "agent", time.Hour)
	assert.Equal(t, err, nil)
	assert.Equal(t, s.IP, "10.0.0.1")

	claims, err := jwtpkg.Parse(token)
	assert.Equal(t, err, nil)
	assert.Equal(t, claims.SessionID, s.ID)

	active, err := IsActive(db, "user-1", s.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, active, true)

	active, _ = IsActive(db, "user-2", s.ID)
	assert.Equal(t, active, false)

	active, _ = IsActive(db, "user-1", "")
	assert.Equal(t, active, false)
}

func TestRevokeAndList(t *testing.T) {
	db := openDB(t)

	_, a, err := Issue(db, "user-1", "", "", time.Hour)
	assert.Equal(t, err, nil)
	_, b, err := Issue(db, "user-1", "", "", time.Hour)
	assert.Equal(t, err, nil)
	_, c, err := Issue(db, "user-1", "", "", time.Hour)
	assert.Equal(t, err, nil)

	assert.Equal(t, Revoke(db, "user-1", a.ID), nil)
	assert.Equal(t, errors.Is(Revoke(db, "user-1", a.ID), gorm.ErrRecordNotFound), true)

	list, err := ListActive(db, "user-1")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(list), 2)

	n, err := RevokeAllExcept(db, "user-1", c.ID)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, int64(1))

	active, _ := IsActive(db, "user-1", b.ID)
	assert.Equal(t, active, false)
	active, _ = IsActive(db, "user-1", c.ID)
	assert.Equal(t, active, true)
}

func TestPurgeExpired(t *testing.T) {
	db := openDB(t)

	expired := &models.UserSession{UserID: "user-1", ExpiresAt: time.Now().Add(-2 * time.Hour)}
	assert.Equal(t, db.Create(expired).Error, nil)
	_, live, err := Issue(db, "user-1", "", "", time.Hour)
	assert.Equal(t, err, nil)

	n, err := PurgeExpired(db, time.Now())
	assert.Equal(t, err, nil)
	assert.Equal(t, n, int64(1))

	active, _ := IsActive(db, "user-1", live.ID)
	assert.Equal(t, active, true)
}
