package form

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
	"github.com/lodestarlabs/marksync/internal/signal"
)

type fakeSaver struct {
	mu      sync.Mutex
	inputs  []bookmarks.NewBookmark
	stored  bookmarks.Bookmark
	err     error
	release chan struct{}
}

func (s *fakeSaver) Insert(_ context.Context, input bookmarks.NewBookmark) (bookmarks.Bookmark, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return bookmarks.Bookmark{}, s.err
	}
	return s.stored, nil
}

func (s *fakeSaver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

func mustController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	controller, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to build form controller: %v", err)
	}
	return controller
}

func TestSubmitStoresTrimmedFieldsAndClears(t *testing.T) {
	saver := &fakeSaver{stored: bookmarks.Bookmark{ID: "b1", Title: "Go", URL: "https://go.dev"}}
	var added []bookmarks.Bookmark
	controller := mustController(t, Config{
		Saver:   saver,
		OnAdded: func(record bookmarks.Bookmark) { added = append(added, record) },
	})

	controller.SetTitle("  Go  ")
	controller.SetURL(" https://go.dev ")

	stored, err := controller.Submit(context.Background())
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	if stored.ID != "b1" {
		t.Fatalf("unexpected stored bookmark: %+v", stored)
	}

	saver.mu.Lock()
	input := saver.inputs[0]
	saver.mu.Unlock()
	if input.Title != "Go" || input.URL != "https://go.dev" {
		t.Fatalf("expected trimmed fields sent to store, got %+v", input)
	}

	if title, url := controller.Fields(); title != "" || url != "" {
		t.Fatalf("expected cleared fields, got %q %q", title, url)
	}
	if len(added) != 1 || added[0].ID != "b1" {
		t.Fatalf("expected one added notification, got %v", added)
	}
}

func TestSubmitRejectsBlankFieldsWithoutStoreCall(t *testing.T) {
	cases := []struct {
		name  string
		title string
		url   string
	}{
		{name: "both blank", title: "", url: ""},
		{name: "whitespace title", title: "   ", url: "https://go.dev"},
		{name: "whitespace url", title: "Go", url: "\t"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			saver := &fakeSaver{}
			controller := mustController(t, Config{Saver: saver})
			controller.SetTitle(testCase.title)
			controller.SetURL(testCase.url)

			if _, err := controller.Submit(context.Background()); !errors.Is(err, ErrFieldsRequired) {
				t.Fatalf("expected fields required error, got %v", err)
			}
			if saver.callCount() != 0 {
				t.Fatalf("expected zero store calls, got %d", saver.callCount())
			}
			if title, url := controller.Fields(); title != testCase.title || url != testCase.url {
				t.Fatalf("expected fields retained, got %q %q", title, url)
			}
		})
	}
}

func TestSubmitKeepsFieldsOnStoreFailure(t *testing.T) {
	saver := &fakeSaver{err: errors.New("store down")}
	controller := mustController(t, Config{Saver: saver})
	controller.SetTitle("Go")
	controller.SetURL("https://go.dev")

	if _, err := controller.Submit(context.Background()); err == nil {
		t.Fatal("expected submit error")
	}
	if title, url := controller.Fields(); title != "Go" || url != "https://go.dev" {
		t.Fatalf("expected fields retained for retry, got %q %q", title, url)
	}
	if controller.Submitting() {
		t.Fatal("expected submitting flag released after failure")
	}
}

func TestSubmitRejectsWhileInFlight(t *testing.T) {
	saver := &fakeSaver{release: make(chan struct{})}
	controller := mustController(t, Config{Saver: saver})
	controller.SetTitle("Go")
	controller.SetURL("https://go.dev")

	firstDone := make(chan error, 1)
	go func() {
		_, err := controller.Submit(context.Background())
		firstDone <- err
	}()

	deadline := time.After(time.Second)
	for !controller.Submitting() {
		select {
		case <-deadline:
			t.Fatal("first submit never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := controller.Submit(context.Background()); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}

	close(saver.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("unexpected first submit error: %v", err)
	}
	if saver.callCount() != 1 {
		t.Fatalf("expected exactly one store call, got %d", saver.callCount())
	}
}

func TestSubmitAnnouncesToSiblings(t *testing.T) {
	hub := signal.NewHub()
	sibling := hub.NewSlot()
	markers, cleanup := sibling.Subscribe(context.Background())
	defer cleanup()

	saver := &fakeSaver{stored: bookmarks.Bookmark{ID: "b1"}}
	controller := mustController(t, Config{Saver: saver, Signals: hub.NewSlot()})
	controller.SetTitle("Go")
	controller.SetURL("https://go.dev")

	if _, err := controller.Submit(context.Background()); err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	select {
	case <-markers:
	case <-time.After(time.Second):
		t.Fatal("expected sibling to receive a change marker")
	}
}
