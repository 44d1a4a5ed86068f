package bookmarks

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T, publisher ChangePublisher) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   openTestDatabase(t),
		Clock:      steppingClock(1700000000),
		IDProvider: NewUUIDProvider(),
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestCreateAssignsIdentifierAndPublishesInsert(t *testing.T) {
	publisher := &recordingPublisher{}
	service := newTestService(t, publisher)
	owner := mustOwnerID(t, "owner-1")

	created, err := service.Create(context.Background(), owner, NewBookmark{
		Title: "  Example  ",
		URL:   "https://example.com",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected store-assigned identifier")
	}
	if created.Title != "Example" {
		t.Fatalf("expected trimmed title, got %q", created.Title)
	}
	if created.OwnerID != owner.String() {
		t.Fatalf("expected owner %s, got %s", owner.String(), created.OwnerID)
	}
	if created.CreatedAtSeconds == 0 {
		t.Fatal("expected store-assigned creation timestamp")
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.events))
	}
	if publisher.events[0].Kind != ChangeKindInsert {
		t.Fatalf("expected insert event, got %s", publisher.events[0].Kind)
	}
	if publisher.owners[0] != owner.String() {
		t.Fatalf("expected event scoped to %s, got %s", owner.String(), publisher.owners[0])
	}
}

func TestCreateRejectsEmptyFields(t *testing.T) {
	publisher := &recordingPublisher{}
	service := newTestService(t, publisher)
	owner := mustOwnerID(t, "owner-1")

	if _, err := service.Create(context.Background(), owner, NewBookmark{Title: "   ", URL: "https://example.com"}); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected empty title error, got %v", err)
	}
	if _, err := service.Create(context.Background(), owner, NewBookmark{Title: "Example", URL: ""}); !errors.Is(err, ErrEmptyURL) {
		t.Fatalf("expected empty url error, got %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no published events, got %d", len(publisher.events))
	}
}

func TestListByOwnerReturnsNewestFirstAndPartitionsByOwner(t *testing.T) {
	service := newTestService(t, nil)
	first := mustOwnerID(t, "owner-1")
	second := mustOwnerID(t, "owner-2")

	older, err := service.Create(context.Background(), first, NewBookmark{Title: "Older", URL: "https://old.example.com"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	newer, err := service.Create(context.Background(), first, NewBookmark{Title: "Newer", URL: "https://new.example.com"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if _, err := service.Create(context.Background(), second, NewBookmark{Title: "Other owner", URL: "https://other.example.com"}); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	listed, err := service.ListByOwner(context.Background(), first)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 bookmarks, got %d", len(listed))
	}
	if listed[0].ID != newer.ID || listed[1].ID != older.ID {
		t.Fatalf("expected newest-first ordering, got [%s, %s]", listed[0].Title, listed[1].Title)
	}
	for _, record := range listed {
		if record.OwnerID != first.String() {
			t.Fatalf("expected only owner-1 rows, found owner %s", record.OwnerID)
		}
	}
}

func TestUpdateRewritesInPlaceAndPublishes(t *testing.T) {
	publisher := &recordingPublisher{}
	service := newTestService(t, publisher)
	owner := mustOwnerID(t, "owner-1")

	created, err := service.Create(context.Background(), owner, NewBookmark{Title: "Before", URL: "https://before.example.com"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	updated, err := service.Update(context.Background(), owner, mustBookmarkID(t, created.ID), NewBookmark{
		Title: "After",
		URL:   "https://after.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("expected identifier to survive update, got %s", updated.ID)
	}
	if updated.CreatedAtSeconds != created.CreatedAtSeconds {
		t.Fatal("expected creation timestamp to survive update")
	}
	if updated.Title != "After" {
		t.Fatalf("expected rewritten title, got %q", updated.Title)
	}

	last := publisher.events[len(publisher.events)-1]
	if last.Kind != ChangeKindUpdate {
		t.Fatalf("expected update event, got %s", last.Kind)
	}
	if last.Bookmark.ID != created.ID {
		t.Fatalf("expected event for %s, got %s", created.ID, last.Bookmark.ID)
	}
}

func TestUpdateUnknownBookmarkReportsNotFound(t *testing.T) {
	service := newTestService(t, nil)
	owner := mustOwnerID(t, "owner-1")

	_, err := service.Update(context.Background(), owner, mustBookmarkID(t, "missing"), NewBookmark{
		Title: "Title",
		URL:   "https://example.com",
	})
	if !errors.Is(err, ErrBookmarkNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDeleteByIDRemovesRowAndPublishesDelete(t *testing.T) {
	publisher := &recordingPublisher{}
	service := newTestService(t, publisher)
	owner := mustOwnerID(t, "owner-1")

	created, err := service.Create(context.Background(), owner, NewBookmark{Title: "Example", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	if err := service.DeleteByID(context.Background(), owner, mustBookmarkID(t, created.ID)); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	listed, err := service.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty collection after delete, got %d rows", len(listed))
	}

	last := publisher.events[len(publisher.events)-1]
	if last.Kind != ChangeKindDelete {
		t.Fatalf("expected delete event, got %s", last.Kind)
	}
	if last.BookmarkID != created.ID {
		t.Fatalf("expected delete event for %s, got %s", created.ID, last.BookmarkID)
	}
}

func TestDeleteByIDRefusesForeignOwner(t *testing.T) {
	service := newTestService(t, nil)
	owner := mustOwnerID(t, "owner-1")
	intruder := mustOwnerID(t, "owner-2")

	created, err := service.Create(context.Background(), owner, NewBookmark{Title: "Example", URL: "https://example.com"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	err = service.DeleteByID(context.Background(), intruder, mustBookmarkID(t, created.ID))
	if !errors.Is(err, ErrBookmarkNotFound) {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}

	listed, err := service.ListByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected row to survive foreign delete, got %d rows", len(listed))
	}
}
