package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lodestarlabs/marksync/internal/auth"
	"github.com/lodestarlabs/marksync/internal/bookmarks"
	"github.com/lodestarlabs/marksync/internal/users"
)

type testBackend struct {
	handler    http.Handler
	dispatcher *Dispatcher
	issuer     *auth.TokenIssuer
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&bookmarks.Bookmark{}, &users.Identity{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	dispatcher := NewDispatcher()
	service, err := bookmarks.NewService(bookmarks.ServiceConfig{
		Database:   db,
		IDProvider: bookmarks.NewUUIDProvider(),
		Publisher:  dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to build bookmark service: %v", err)
	}
	identities, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: bookmarks.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build identity service: %v", err)
	}
	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "marksync-auth",
		Audience:      "marksync-api",
		TokenTTL:      time.Minute,
	})

	handler, err := NewHTTPHandler(Dependencies{
		Identities:      identities,
		TokenManager:    issuer,
		BookmarkService: service,
		Realtime:        dispatcher,
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build http handler: %v", err)
	}

	return &testBackend{handler: handler, dispatcher: dispatcher, issuer: issuer}
}

func (b *testBackend) login(t *testing.T, email string) loginResponsePayload {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	b.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected login status: %d (%s)", recorder.Code, recorder.Body.String())
	}
	var payload loginResponsePayload
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return payload
}

func (b *testBackend) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	b.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestLoginIssuesStableOwner(t *testing.T) {
	backend := newTestBackend(t)

	first := backend.login(t, "user@example.com")
	if first.AccessToken == "" || first.OwnerID == "" {
		t.Fatalf("expected token and owner id, got %#v", first)
	}
	if first.TokenType != "Bearer" {
		t.Fatalf("expected Bearer token type, got %s", first.TokenType)
	}

	second := backend.login(t, "USER@example.com")
	if second.OwnerID != first.OwnerID {
		t.Fatalf("expected stable owner id across logins, got %s then %s", first.OwnerID, second.OwnerID)
	}
}

func TestLoginRejectsMissingEmail(t *testing.T) {
	backend := newTestBackend(t)
	recorder := backend.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "  "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
}

func TestBookmarkRoutesRequireAuthorization(t *testing.T) {
	backend := newTestBackend(t)

	for _, testCase := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/bookmarks"},
		{http.MethodPost, "/bookmarks"},
		{http.MethodPatch, "/bookmarks/bm-1"},
		{http.MethodDelete, "/bookmarks/bm-1"},
	} {
		recorder := backend.do(t, testCase.method, testCase.path, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected unauthorized, got %d", testCase.method, testCase.path, recorder.Code)
		}
	}
}

func TestBookmarkLifecycleOverHTTP(t *testing.T) {
	backend := newTestBackend(t)
	session := backend.login(t, "user@example.com")

	created := backend.do(t, http.MethodPost, "/bookmarks", session.AccessToken, map[string]string{
		"title": "Example",
		"url":   "https://example.com",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected create status: %d (%s)", created.Code, created.Body.String())
	}
	var record bookmarks.Bookmark
	if err := json.NewDecoder(created.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode created bookmark: %v", err)
	}
	if record.OwnerID != session.OwnerID {
		t.Fatalf("expected owner %s, got %s", session.OwnerID, record.OwnerID)
	}

	updated := backend.do(t, http.MethodPatch, "/bookmarks/"+record.ID, session.AccessToken, map[string]string{
		"title": "Renamed",
		"url":   "https://example.com",
	})
	if updated.Code != http.StatusOK {
		t.Fatalf("unexpected update status: %d (%s)", updated.Code, updated.Body.String())
	}

	listed := backend.do(t, http.MethodGet, "/bookmarks", session.AccessToken, nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("unexpected list status: %d", listed.Code)
	}
	var listPayload bookmarkListPayload
	if err := json.NewDecoder(listed.Body).Decode(&listPayload); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(listPayload.Bookmarks) != 1 || listPayload.Bookmarks[0].Title != "Renamed" {
		t.Fatalf("unexpected list payload: %#v", listPayload)
	}

	deleted := backend.do(t, http.MethodDelete, "/bookmarks/"+record.ID, session.AccessToken, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("unexpected delete status: %d", deleted.Code)
	}

	again := backend.do(t, http.MethodDelete, "/bookmarks/"+record.ID, session.AccessToken, nil)
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected not found for repeated delete, got %d", again.Code)
	}
}

func TestCreateBookmarkRejectsEmptyFields(t *testing.T) {
	backend := newTestBackend(t)
	session := backend.login(t, "user@example.com")

	recorder := backend.do(t, http.MethodPost, "/bookmarks", session.AccessToken, map[string]string{
		"title": "   ",
		"url":   "https://example.com",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
}

func TestOwnersCannotTouchForeignBookmarks(t *testing.T) {
	backend := newTestBackend(t)
	owner := backend.login(t, "owner@example.com")
	intruder := backend.login(t, "intruder@example.com")

	created := backend.do(t, http.MethodPost, "/bookmarks", owner.AccessToken, map[string]string{
		"title": "Private",
		"url":   "https://private.example.com",
	})
	var record bookmarks.Bookmark
	if err := json.NewDecoder(created.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode created bookmark: %v", err)
	}

	listed := backend.do(t, http.MethodGet, "/bookmarks", intruder.AccessToken, nil)
	var listPayload bookmarkListPayload
	if err := json.NewDecoder(listed.Body).Decode(&listPayload); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(listPayload.Bookmarks) != 0 {
		t.Fatalf("expected empty list for intruder, got %d rows", len(listPayload.Bookmarks))
	}

	deleted := backend.do(t, http.MethodDelete, "/bookmarks/"+record.ID, intruder.AccessToken, nil)
	if deleted.Code != http.StatusNotFound {
		t.Fatalf("expected not found for foreign delete, got %d", deleted.Code)
	}
}
