package bookmarks

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustOwnerID(t *testing.T, value string) OwnerID {
	t.Helper()
	id, err := NewOwnerID(value)
	if err != nil {
		t.Fatalf("unexpected owner id error: %v", err)
	}
	return id
}

func mustBookmarkID(t *testing.T, value string) BookmarkID {
	t.Helper()
	id, err := NewBookmarkID(value)
	if err != nil {
		t.Fatalf("unexpected bookmark id error: %v", err)
	}
	return id
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Bookmark{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type recordingPublisher struct {
	owners []string
	events []ChangeEvent
}

func (p *recordingPublisher) PublishChange(ownerID string, event ChangeEvent) {
	p.owners = append(p.owners, ownerID)
	p.events = append(p.events, event)
}

// steppingClock returns a clock that advances one second per call,
// so consecutive creations get strictly increasing timestamps.
func steppingClock(start int64) func() time.Time {
	current := start
	return func() time.Time {
		current++
		return time.Unix(current, 0).UTC()
	}
}
