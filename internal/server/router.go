package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
	"github.com/lodestarlabs/marksync/internal/users"
)

const ownerIDContextKey = "marksync_owner_id"

var (
	errMissingIdentityResolver = errors.New("identity resolver dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingBookmarkService  = errors.New("bookmark service dependency required")
	errMissingDispatcher       = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityResolver maps a login email to its canonical owner identity.
type IdentityResolver interface {
	ResolveOwner(ctx context.Context, email string) (users.Identity, error)
}

// TokenManager issues and validates owner access tokens.
type TokenManager interface {
	IssueOwnerToken(ctx context.Context, ownerID, email string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies bundles everything the HTTP handler needs.
type Dependencies struct {
	Identities      IdentityResolver
	TokenManager    TokenManager
	BookmarkService *bookmarks.Service
	Realtime        *Dispatcher
	Logger          *zap.Logger
}

// NewHTTPHandler assembles the gin router serving auth, bookmark CRUD
// and the per-owner change-feed stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Identities == nil {
		return nil, errMissingIdentityResolver
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.BookmarkService == nil {
		return nil, errMissingBookmarkService
	}
	if deps.Realtime == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		identities: deps.Identities,
		tokens:     deps.TokenManager,
		service:    deps.BookmarkService,
		realtime:   deps.Realtime,
		logger:     logger,
	}

	router.POST("/auth/login", handler.handleLogin)
	router.GET("/bookmarks/stream", handler.handleBookmarkStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/bookmarks", handler.handleListBookmarks)
	protected.POST("/bookmarks", handler.handleCreateBookmark)
	protected.PATCH("/bookmarks/:id", handler.handleUpdateBookmark)
	protected.DELETE("/bookmarks/:id", handler.handleDeleteBookmark)

	return router, nil
}

type httpHandler struct {
	identities IdentityResolver
	tokens     TokenManager
	service    *bookmarks.Service
	realtime   *Dispatcher
	logger     *zap.Logger
}

type loginRequestPayload struct {
	Email string `json:"email"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	OwnerID     string `json:"owner_id"`
	Email       string `json:"email"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	identity, err := h.identities.ResolveOwner(c.Request.Context(), request.Email)
	if err != nil {
		if errors.Is(err, users.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
			return
		}
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueOwnerToken(c.Request.Context(), identity.OwnerID, identity.Email)
	if err != nil {
		h.logger.Error("failed to issue owner token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		OwnerID:     identity.OwnerID,
		Email:       identity.Email,
	})
}

type bookmarkRequestPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type bookmarkListPayload struct {
	Bookmarks []bookmarks.Bookmark `json:"bookmarks"`
}

func (h *httpHandler) handleListBookmarks(c *gin.Context) {
	owner, ok := h.requestOwner(c)
	if !ok {
		return
	}

	listed, err := h.service.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("bookmark list failed", zap.Error(err), zap.String("owner_id", owner.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	if listed == nil {
		listed = []bookmarks.Bookmark{}
	}
	c.JSON(http.StatusOK, bookmarkListPayload{Bookmarks: listed})
}

func (h *httpHandler) handleCreateBookmark(c *gin.Context) {
	owner, ok := h.requestOwner(c)
	if !ok {
		return
	}

	var request bookmarkRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.service.Create(c.Request.Context(), owner, bookmarks.NewBookmark{
		Title: request.Title,
		URL:   request.URL,
	})
	if err != nil {
		if errors.Is(err, bookmarks.ErrEmptyTitle) || errors.Is(err, bookmarks.ErrEmptyURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_bookmark"})
			return
		}
		h.logger.Error("bookmark create failed", zap.Error(err), zap.String("owner_id", owner.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateBookmark(c *gin.Context) {
	owner, ok := h.requestOwner(c)
	if !ok {
		return
	}
	bookmarkID, err := bookmarks.NewBookmarkID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_bookmark_id"})
		return
	}

	var request bookmarkRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.service.Update(c.Request.Context(), owner, bookmarkID, bookmarks.NewBookmark{
		Title: request.Title,
		URL:   request.URL,
	})
	if err != nil {
		switch {
		case errors.Is(err, bookmarks.ErrBookmarkNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		case errors.Is(err, bookmarks.ErrEmptyTitle), errors.Is(err, bookmarks.ErrEmptyURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_bookmark"})
		default:
			h.logger.Error("bookmark update failed", zap.Error(err), zap.String("owner_id", owner.String()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		}
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteBookmark(c *gin.Context) {
	owner, ok := h.requestOwner(c)
	if !ok {
		return
	}
	bookmarkID, err := bookmarks.NewBookmarkID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_bookmark_id"})
		return
	}

	if err := h.service.DeleteByID(c.Request.Context(), owner, bookmarkID); err != nil {
		if errors.Is(err, bookmarks.ErrBookmarkNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("bookmark delete failed", zap.Error(err), zap.String("owner_id", owner.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) requestOwner(c *gin.Context) (bookmarks.OwnerID, bool) {
	owner, err := bookmarks.NewOwnerID(c.GetString(ownerIDContextKey))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return owner, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(ownerIDContextKey, subject)
	c.Next()
}
