package services

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/primeestate/room-selection-backend/internal/config"
	"github.com/primeestate/room-selection-backend/internal/database"
	"github.com/primeestate/room-selection-backend/internal/models"
	"github.com/primeestate/room-selection-backend/pkg/jwt"
)

// ErrBadCredentials is returned when an admin login carries a missing or
// wrong admin password.
var ErrBadCredentials = errors.New("bad credentials")

// AuthService exchanges a roster identity for a session token. Buyers
// authenticate with their system id alone; admin accounts additionally
// present the shared admin password.
type AuthService struct {
	store  database.Store
	jwtSvc *jwt.Service
	auth   config.AuthConfig
	logger *logrus.Logger
}

// NewAuthService creates an AuthService
func NewAuthService(store database.Store, jwtSvc *jwt.Service, auth config.AuthConfig, logger *logrus.Logger) *AuthService {
	return &AuthService{
		store:  store,
		jwtSvc: jwtSvc,
		auth:   auth,
		logger: logger,
	}
}

// Login verifies the identity and issues a session token
func (s *AuthService) Login(req models.LoginRequest) (string, *models.User, error) {
	user, err := s.store.GetUser(req.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("failed to load user %s: %w", req.UserID, err)
	}

	if user.IsAdmin {
		if !s.checkAdminPassword(req.AdminPassword) {
			s.logger.WithField("user_id", user.ID).Warn("Admin login rejected")
			return "", nil, ErrBadCredentials
		}
	}

	token, err := s.jwtSvc.GenerateSessionToken(user.ID, user.Name, user.IsAdmin)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"is_admin": user.IsAdmin,
	}).Info("User logged in")

	return token, user, nil
}

// checkAdminPassword prefers the bcrypt hash when configured; the plain
// password fallback uses a constant-time compare.
func (s *AuthService) checkAdminPassword(candidate string) bool {
	if candidate == "" {
		return false
	}
	if s.auth.AdminPasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.auth.AdminPasswordHash), []byte(candidate)) == nil
	}
	if s.auth.AdminPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.auth.AdminPassword), []byte(candidate)) == 1
}
