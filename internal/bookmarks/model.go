package bookmarks

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidBookmarkID indicates that a bookmark identifier is empty or exceeds storage bounds.
	ErrInvalidBookmarkID = errors.New("bookmarks: invalid bookmark id")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("bookmarks: invalid owner id")
	// ErrEmptyTitle indicates that a bookmark title is empty after trimming.
	ErrEmptyTitle = errors.New("bookmarks: title must not be empty")
	// ErrEmptyURL indicates that a bookmark url is empty after trimming.
	ErrEmptyURL = errors.New("bookmarks: url must not be empty")
)

// BookmarkID represents a validated bookmark identifier.
type BookmarkID string

// NewBookmarkID validates raw input and returns a BookmarkID.
func NewBookmarkID(rawInput string) (BookmarkID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBookmarkID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBookmarkID, maxIdentifierLength)
	}
	return BookmarkID(trimmed), nil
}

// String returns the underlying string identifier.
func (id BookmarkID) String() string {
	return string(id)
}

// OwnerID represents a validated owner identifier.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// Bookmark models one persisted bookmark row. The same shape travels on
// the wire, so the struct carries both gorm and json bindings.
type Bookmark struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_bookmarks_owner_created,priority:1" json:"owner_id"`
	Title            string `gorm:"column:title;type:text;not null" json:"title"`
	URL              string `gorm:"column:url;type:text;not null" json:"url"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_bookmarks_owner_created,priority:2" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Bookmark) TableName() string {
	return "bookmarks"
}

// NewBookmark carries the caller-supplied fields of a bookmark about to
// be created. Identifier and creation time are assigned by the store.
type NewBookmark struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Validate rejects empty required fields after trimming.
func (n NewBookmark) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return ErrEmptyTitle
	}
	if strings.TrimSpace(n.URL) == "" {
		return ErrEmptyURL
	}
	return nil
}

// ChangeKind discriminates change-feed events.
type ChangeKind string

const (
	// ChangeKindInsert announces a newly created bookmark.
	ChangeKindInsert ChangeKind = "insert"
	// ChangeKindUpdate announces an edit to an existing bookmark.
	ChangeKindUpdate ChangeKind = "update"
	// ChangeKindDelete announces a removal; only the identifier travels.
	ChangeKindDelete ChangeKind = "delete"
)

// ChangeEvent is the tagged variant delivered on the change feed.
// Insert and update carry the full record; delete carries only the
// identifier of the removed row.
type ChangeEvent struct {
	Kind       ChangeKind `json:"kind"`
	Bookmark   Bookmark   `json:"bookmark,omitempty"`
	BookmarkID string     `json:"bookmark_id,omitempty"`
}

// ID returns the identifier the event refers to regardless of kind.
func (e ChangeEvent) ID() string {
	if e.Kind == ChangeKindDelete {
		return e.BookmarkID
	}
	return e.Bookmark.ID
}

// ChangePublisher receives change events emitted by the store after each
// successful mutation. The realtime dispatcher implements it.
type ChangePublisher interface {
	PublishChange(ownerID string, event ChangeEvent)
}
