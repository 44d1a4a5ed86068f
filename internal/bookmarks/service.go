package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrBookmarkNotFound indicates that no row matched the requested identifier for the owner.
	ErrBookmarkNotFound = errors.New("bookmarks: bookmark not found")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "bookmarks.service.new"
	opCreate     = "bookmarks.create"
	opList       = "bookmarks.list"
	opUpdate     = "bookmarks.update"
	opDelete     = "bookmarks.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for newly created bookmarks.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies of the bookmark store service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  ChangePublisher
	Logger     *zap.Logger
}

// Service owns bookmark persistence. Every successful mutation is
// announced to the configured ChangePublisher so connected feeds see it.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	ids       IDProvider
	publisher ChangePublisher
	logger    *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:        cfg.Database,
		clock:     clock,
		ids:       cfg.IDProvider,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// Create persists a new bookmark for the owner, assigning identifier and
// creation timestamp, and publishes an insert event.
func (s *Service) Create(ctx context.Context, ownerID OwnerID, input NewBookmark) (Bookmark, error) {
	if err := input.Validate(); err != nil {
		return Bookmark{}, newServiceError(opCreate, "invalid_input", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("owner_id", ownerID.String()))
		return Bookmark{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	record := Bookmark{
		ID:               id,
		OwnerID:          ownerID.String(),
		Title:            strings.TrimSpace(input.Title),
		URL:              strings.TrimSpace(input.URL),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID.String()))
		return Bookmark{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.publish(ownerID.String(), ChangeEvent{Kind: ChangeKindInsert, Bookmark: record})
	return record, nil
}

// ListByOwner returns every bookmark belonging to the owner, newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID OwnerID) ([]Bookmark, error) {
	var records []Bookmark
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID.String()).
		Order("created_at_s DESC, id DESC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID.String()))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// Update rewrites title and url of an existing bookmark in place and
// publishes an update event. Identifier and creation time never change.
func (s *Service) Update(ctx context.Context, ownerID OwnerID, bookmarkID BookmarkID, input NewBookmark) (Bookmark, error) {
	if err := input.Validate(); err != nil {
		return Bookmark{}, newServiceError(opUpdate, "invalid_input", err)
	}

	var record Bookmark
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID.String(), bookmarkID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Bookmark{}, newServiceError(opUpdate, "not_found", ErrBookmarkNotFound)
	}
	if err != nil {
		s.logError(opUpdate, "select_failed", err,
			zap.String("owner_id", ownerID.String()),
			zap.String("bookmark_id", bookmarkID.String()))
		return Bookmark{}, newServiceError(opUpdate, "select_failed", err)
	}

	record.Title = strings.TrimSpace(input.Title)
	record.URL = strings.TrimSpace(input.URL)
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opUpdate, "save_failed", err,
			zap.String("owner_id", ownerID.String()),
			zap.String("bookmark_id", bookmarkID.String()))
		return Bookmark{}, newServiceError(opUpdate, "save_failed", err)
	}

	s.publish(ownerID.String(), ChangeEvent{Kind: ChangeKindUpdate, Bookmark: record})
	return record, nil
}

// DeleteByID removes the owner's bookmark and publishes a delete event.
// Deleting an identifier that is already gone reports not found.
func (s *Service) DeleteByID(ctx context.Context, ownerID OwnerID, bookmarkID BookmarkID) error {
	result := s.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID.String(), bookmarkID.String()).
		Delete(&Bookmark{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error,
			zap.String("owner_id", ownerID.String()),
			zap.String("bookmark_id", bookmarkID.String()))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found", ErrBookmarkNotFound)
	}

	s.publish(ownerID.String(), ChangeEvent{Kind: ChangeKindDelete, BookmarkID: bookmarkID.String()})
	return nil
}

func (s *Service) publish(ownerID string, event ChangeEvent) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishChange(ownerID, event)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("bookmarks service error", attrs...)
}
