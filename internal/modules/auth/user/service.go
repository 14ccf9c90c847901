package user

import (
	"errors"
	"strings"
	"time"

	"github.com/slidecraft/server/internal/models"
	sessionpkg "github.com/slidecraft/server/internal/pkg/session"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Service struct {
	db         *gorm.DB
	sessionTTL time.Duration
	// failDelay slows down failed logins.
	failDelay time.Duration
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, sessionTTL: sessionpkg.DefaultTTL, failDelay: time.Second}
}

func (s *Service) GetByID(id string) (*models.UserModel, error) {
	var u models.UserModel
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// Register validates the payload and creates the account.
func (s *Service) Register(dto *RegisterDTO) (*models.UserModel, error) {
	if verr := validateRegister(dto); verr != nil {
		return nil, verr
	}
	email := normalizeEmail(dto.Email)

	var count int64
	if err := s.db.Model(&models.UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(dto.Name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}
	u := models.UserModel{Email: email, Password: string(hash), Name: name}
	if err := s.db.Create(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Login checks credentials and issues a session-bound token.
func (s *Service) Login(email, password, ip, ua string) (string, *models.UserModel, error) {
	var u models.UserModel
	if err := s.db.Where("email = ?", normalizeEmail(email)).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			time.Sleep(s.failDelay)
			return "", nil, errInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		time.Sleep(s.failDelay)
		return "", nil, errInvalidCredentials
	}

	now := time.Now()
	if err := s.db.Model(&u).Updates(map[string]interface{}{
		"last_login_time": now,
		"last_login_ip":   ip,
	}).Error; err != nil {
		return "", nil, err
	}
	u.LastLoginTime = &now
	u.LastLoginIP = ip

	token, _, err := sessionpkg.Issue(s.db, u.ID, ip, ua, s.sessionTTL)
	if err != nil {
		return "", nil, err
	}
	return token, &u, nil
}

// ChangePassword replaces the password and revokes every other session.
func (s *Service) ChangePassword(id, currentSessionID, oldPwd, newPwd string) error {
	var u models.UserModel
	if err := s.db.Select("id, password").First(&u, "id = ?", id).Error; err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(oldPwd)); err != nil {
		return errInvalidCredentials
	}
	if oldPwd == newPwd {
		return errPasswordSameAsOld
	}
	if verr := validatePassword("new_password", newPwd); verr != nil {
		return verr
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&u).Update("password", string(hash)).Error; err != nil {
			return err
		}
		_, err := sessionpkg.RevokeAllExcept(tx, id, currentSessionID)
		return err
	})
}
