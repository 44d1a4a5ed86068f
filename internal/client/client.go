// Package client is the thin data-access layer consumed by the list
// reconciler and the creation form. It treats the marksync API as an
// external collaborator: four store operations plus a change-feed
// subscription, with no retry policy of its own.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
)

var (
	errMissingBaseURL = errors.New("client: api base url required")
	// ErrUnauthorized indicates the access token was missing, expired or rejected.
	ErrUnauthorized = errors.New("client: unauthorized")
	// ErrNotFound indicates the requested bookmark does not exist for this owner.
	ErrNotFound = errors.New("client: bookmark not found")
)

// APIError carries the server's error code for non-2xx responses that do
// not map to a sentinel.
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: api error %d (%s)", e.StatusCode, e.Code)
}

// Config bundles what the store client needs.
type Config struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client executes store operations against the marksync API on behalf of
// one signed-in owner.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New validates the configuration and constructs a Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   cfg.AccessToken,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// Insert creates a bookmark owned by the signed-in owner. The server
// assigns identifier and creation timestamp.
func (c *Client) Insert(ctx context.Context, input bookmarks.NewBookmark) (bookmarks.Bookmark, error) {
	var created bookmarks.Bookmark
	if err := c.doJSON(ctx, http.MethodPost, "/bookmarks", input, http.StatusCreated, &created); err != nil {
		return bookmarks.Bookmark{}, err
	}
	return created, nil
}

// SelectAll fetches the owner's entire collection, newest first. Order
// is the server's; the caller replaces, never merges.
func (c *Client) SelectAll(ctx context.Context) ([]bookmarks.Bookmark, error) {
	var payload struct {
		Bookmarks []bookmarks.Bookmark `json:"bookmarks"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/bookmarks", nil, http.StatusOK, &payload); err != nil {
		return nil, err
	}
	return payload.Bookmarks, nil
}

// Update rewrites title and url of an existing bookmark.
func (c *Client) Update(ctx context.Context, bookmarkID string, input bookmarks.NewBookmark) (bookmarks.Bookmark, error) {
	var updated bookmarks.Bookmark
	if err := c.doJSON(ctx, http.MethodPatch, "/bookmarks/"+bookmarkID, input, http.StatusOK, &updated); err != nil {
		return bookmarks.Bookmark{}, err
	}
	return updated, nil
}

// DeleteByID removes one bookmark by identifier.
func (c *Client) DeleteByID(ctx context.Context, bookmarkID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/bookmarks/"+bookmarkID, nil, http.StatusNoContent, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, expectedStatus int, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close() //nolint:errcheck

	if response.StatusCode != expectedStatus {
		return c.decodeError(response)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func (c *Client) decodeError(response *http.Response) error {
	var payload struct {
		Code string `json:"error"`
	}
	_ = json.NewDecoder(response.Body).Decode(&payload)

	switch response.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, payload.Code)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, payload.Code)
	default:
		return &APIError{StatusCode: response.StatusCode, Code: payload.Code}
	}
}
