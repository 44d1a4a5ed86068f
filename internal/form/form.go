// Package form holds the state machine behind the bookmark creation
// form: two text fields, a submitting flag, and a single-flight submit
// path against the hosted store.
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
	"github.com/lodestarlabs/marksync/internal/signal"
)

var (
	errMissingSaver = errors.New("form: saver required")
	// ErrFieldsRequired indicates one or both fields were blank after
	// trimming. No store call is made and the fields keep their values.
	ErrFieldsRequired = errors.New("form: title and url required")
	// ErrSubmitInFlight indicates a submit was requested while an
	// earlier one had not settled yet.
	ErrSubmitInFlight = errors.New("form: submit already in flight")
)

// Saver is the slice of the data-access client the form consumes.
type Saver interface {
	Insert(ctx context.Context, input bookmarks.NewBookmark) (bookmarks.Bookmark, error)
}

// Config bundles the form dependencies. Signals and OnAdded may be nil.
type Config struct {
	Saver   Saver
	Signals signal.Broadcaster
	// OnAdded fires with the stored bookmark after a successful submit,
	// before sibling instances hear about it.
	OnAdded func(bookmarks.Bookmark)
	Logger  *zap.Logger
}

// Controller owns the creation form state for one signed-in owner.
type Controller struct {
	saver   Saver
	signals signal.Broadcaster
	onAdded func(bookmarks.Bookmark)
	logger  *zap.Logger

	mu         sync.Mutex
	title      string
	url        string
	submitting bool
}

// New validates the configuration and returns an empty, idle form.
func New(cfg Config) (*Controller, error) {
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		saver:   cfg.Saver,
		signals: cfg.Signals,
		onAdded: cfg.OnAdded,
		logger:  logger,
	}, nil
}

// SetTitle records the title field as typed, untrimmed.
func (f *Controller) SetTitle(title string) {
	f.mu.Lock()
	f.title = title
	f.mu.Unlock()
}

// SetURL records the URL field as typed, untrimmed.
func (f *Controller) SetURL(url string) {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
}

// Fields returns the current field values.
func (f *Controller) Fields() (title string, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, f.url
}

// Submitting reports whether a submit is in flight.
func (f *Controller) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

// Submit validates the trimmed fields and stores the bookmark. Blank
// fields reject before any store call. Only one submit runs at a time.
// On success the fields clear; on failure they keep their values so the
// owner can retry without retyping.
func (f *Controller) Submit(ctx context.Context) (bookmarks.Bookmark, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return bookmarks.Bookmark{}, ErrSubmitInFlight
	}
	title := strings.TrimSpace(f.title)
	url := strings.TrimSpace(f.url)
	if title == "" || url == "" {
		f.mu.Unlock()
		return bookmarks.Bookmark{}, ErrFieldsRequired
	}
	f.submitting = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()

	stored, err := f.saver.Insert(ctx, bookmarks.NewBookmark{Title: title, URL: url})
	if err != nil {
		f.logger.Error("bookmark insert failed", zap.Error(err))
		return bookmarks.Bookmark{}, fmt.Errorf("form: insert: %w", err)
	}

	f.mu.Lock()
	f.title = ""
	f.url = ""
	f.mu.Unlock()

	if f.onAdded != nil {
		f.onAdded(stored)
	}
	if f.signals != nil {
		if err := f.signals.Announce(ctx); err != nil {
			f.logger.Warn("change marker announce failed", zap.Error(err))
		}
	}
	return stored, nil
}
