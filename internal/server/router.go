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

	"github.com/orbitsocial/orbit/internal/auth"
	"github.com/orbitsocial/orbit/internal/content"
	"github.com/orbitsocial/orbit/internal/media"
	"github.com/orbitsocial/orbit/internal/messaging"
	"github.com/orbitsocial/orbit/internal/social"
	"github.com/orbitsocial/orbit/internal/users"
)

const userIDContextKey = "orbit_user_id"

const defaultHeartbeatInterval = 25 * time.Second

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingSocialService    = errors.New("social service dependency required")
	errMissingContentService   = errors.New("content service dependency required")
	errMissingMessagingService = errors.New("messaging service dependency required")
	errMissingHub              = errors.New("realtime hub dependency required")
	errInvalidAuthorization    = errors.New("authorization missing or invalid")
)

// IdentityVerifier validates identity-provider tokens presented at sign-in.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// BackendTokenManager issues and validates backend access tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.IdentityClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies collects the collaborators the HTTP surface routes to.
// Media is optional; the upload endpoint reports unavailable without it.
type Dependencies struct {
	IdentityVerifier  IdentityVerifier
	TokenManager      BackendTokenManager
	Users             *users.Service
	Social            *social.Service
	Content           *content.Service
	Messaging         *messaging.Service
	Hub               *messaging.Hub
	Media             *media.Service
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

// NewHTTPHandler wires the full route table.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Social == nil {
		return nil, errMissingSocialService
	}
	if deps.Content == nil {
		return nil, errMissingContentService
	}
	if deps.Messaging == nil {
		return nil, errMissingMessagingService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier:  deps.IdentityVerifier,
		tokens:    deps.TokenManager,
		users:     deps.Users,
		social:    deps.Social,
		content:   deps.Content,
		messaging: deps.Messaging,
		hub:       deps.Hub,
		media:     deps.Media,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/health", handler.handleHealth)
	router.POST("/auth/google", handler.handleGoogleAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/users/me", handler.handleGetOwnProfile)
	protected.PATCH("/users/me", handler.handleUpdateProfile)
	protected.GET("/users/:userID", handler.handleGetProfile)
	protected.POST("/users/:userID/follow", handler.handleFollow)
	protected.DELETE("/users/:userID/follow", handler.handleUnfollow)
	protected.POST("/connections/requests", handler.handleRequestConnection)
	protected.POST("/connections/accept", handler.handleAcceptConnection)
	protected.GET("/connections", handler.handleConnections)
	protected.POST("/posts", handler.handleCreatePost)
	protected.POST("/posts/:postID/like", handler.handleToggleLike)
	protected.GET("/feed", handler.handleFeed)
	protected.POST("/stories", handler.handleCreateStory)
	protected.GET("/stories", handler.handleStories)
	protected.POST("/messages", handler.handleSendMessage)
	protected.GET("/messages/thread/:userID", handler.handleThread)
	protected.GET("/messages/conversations", handler.handleConversations)
	protected.GET("/messages/stream/:userID", handler.handleMessageStream)
	protected.GET("/media/upload-url", handler.handleUploadURL)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	verifier  IdentityVerifier
	tokens    BackendTokenManager
	users     *users.Service
	social    *social.Service
	content   *content.Service
	messaging *messaging.Service
	hub       *messaging.Hub
	media     *media.Service
	logger    *zap.Logger
	heartbeat time.Duration
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	User        profilePayload `json:"user"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.users.EnsureUser(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to ensure user profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_init_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        profileToPayload(user),
	})
}

// authorizeRequest accepts the bearer header or, for transports that cannot
// set headers such as EventSource, the access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
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
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) callerID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func (h *httpHandler) respondError(c *gin.Context, err error, operation string) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(operation+" failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, users.ErrNotFound),
		errors.Is(err, social.ErrNotFound),
		errors.Is(err, content.ErrNotFound),
		errors.Is(err, messaging.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, social.ErrInvalidTarget),
		errors.Is(err, messaging.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_target"
	case errors.Is(err, social.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, users.ErrValidation),
		errors.Is(err, content.ErrValidation),
		errors.Is(err, messaging.ErrValidation):
		return http.StatusUnprocessableEntity, "invalid_input"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
