package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoSession indicates no owner is currently signed in.
var ErrNoSession = errors.New("client: no active session")

// Session is the signed-in owner's identity as held by the client:
// ephemeral display data plus the access token for store calls.
type Session struct {
	OwnerID     string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// SessionProviderConfig bundles what the provider needs.
type SessionProviderConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      func() time.Time
}

// SessionProvider authenticates against the marksync API and notifies
// subscribers on every sign-in and sign-out. There is no polling: state
// changes only through SignIn and SignOut.
type SessionProvider struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	clock   func() time.Time

	mu          sync.Mutex
	current     *Session
	subscribers map[int64]func(*Session)
	nextSubID   int64
}

// NewSessionProvider validates the configuration and constructs a provider.
func NewSessionProvider(cfg SessionProviderConfig) (*SessionProvider, error) {
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
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionProvider{
		baseURL:     baseURL,
		http:        httpClient,
		logger:      logger,
		clock:       clock,
		subscribers: make(map[int64]func(*Session)),
	}, nil
}

type loginRequestPayload struct {
	Email string `json:"email"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	OwnerID     string `json:"owner_id"`
	Email       string `json:"email"`
}

// SignIn exchanges the email for an owner session and notifies subscribers.
func (p *SessionProvider) SignIn(ctx context.Context, email string) (*Session, error) {
	body, err := json.Marshal(loginRequestPayload{Email: email})
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.http.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close() //nolint:errcheck

	if response.StatusCode != http.StatusOK {
		var payload struct {
			Code string `json:"error"`
		}
		_ = json.NewDecoder(response.Body).Decode(&payload)
		return nil, &APIError{StatusCode: response.StatusCode, Code: payload.Code}
	}

	var payload loginResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, err
	}

	session := &Session{
		OwnerID:     payload.OwnerID,
		Email:       payload.Email,
		AccessToken: payload.AccessToken,
		ExpiresAt:   p.clock().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}

	p.mu.Lock()
	p.current = session
	callbacks := p.snapshotSubscribersLocked()
	p.mu.Unlock()

	for _, callback := range callbacks {
		callback(session)
	}
	return session, nil
}

// CurrentSession resolves the present session once. Expired sessions
// count as absent.
func (p *SessionProvider) CurrentSession() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.clock().After(p.current.ExpiresAt) {
		return nil, ErrNoSession
	}
	copied := *p.current
	return &copied, nil
}

// OnSessionChange registers a callback invoked with the new session on
// sign-in and with nil on sign-out. The returned function unsubscribes.
func (p *SessionProvider) OnSessionChange(callback func(*Session)) func() {
	p.mu.Lock()
	p.nextSubID++
	id := p.nextSubID
	p.subscribers[id] = callback
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

// SignOut drops the session and notifies subscribers. Tokens are
// stateless, so nothing is revoked server-side.
func (p *SessionProvider) SignOut() {
	p.mu.Lock()
	p.current = nil
	callbacks := p.snapshotSubscribersLocked()
	p.mu.Unlock()

	for _, callback := range callbacks {
		callback(nil)
	}
}

func (p *SessionProvider) snapshotSubscribersLocked() []func(*Session) {
	callbacks := make([]func(*Session), 0, len(p.subscribers))
	for _, callback := range p.subscribers {
		callbacks = append(callbacks, callback)
	}
	return callbacks
}
