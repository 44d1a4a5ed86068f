package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidEmail indicates the login email was empty or malformed.
var ErrInvalidEmail = errors.New("users: invalid email")

// IDProvider issues canonical owner identifiers for first-time logins.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for owner identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service manages the email-to-owner mapping. Resolved identities are
// cached in memory; the table is the source of truth.
type Service struct {
	db    *gorm.DB
	ids   IDProvider
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		ids: cfg.IDProvider,
		now: clock,
	}, nil
}

// ResolveOwner returns the identity for the login email, creating a new
// owner id the first time the email is seen.
func (s *Service) ResolveOwner(ctx context.Context, email string) (Identity, error) {
	normalized := normalizeEmail(email)
	if normalized == "" || !strings.Contains(normalized, "@") {
		return Identity{}, ErrInvalidEmail
	}

	if cached, ok := s.cache.Load(normalized); ok {
		if identity, ok := cached.(Identity); ok {
			return identity, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("email = ?", normalized).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ownerID, idErr := s.ids.NewID()
		if idErr != nil {
			return Identity{}, idErr
		}
		identity = Identity{
			Email:      normalized,
			OwnerID:    ownerID,
			LastSeenAt: s.now().UTC(),
		}
		if createErr := s.db.WithContext(ctx).Create(&identity).Error; createErr != nil {
			return Identity{}, createErr
		}
	} else if err != nil {
		return Identity{}, err
	} else {
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("email = ?", normalized).
			Update("last_seen_at", s.now().UTC()).
			Error
	}

	s.cache.Store(normalized, identity)
	return identity, nil
}
