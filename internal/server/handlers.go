package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orbitsocial/orbit/internal/content"
	"github.com/orbitsocial/orbit/internal/messaging"
	"github.com/orbitsocial/orbit/internal/social"
	"github.com/orbitsocial/orbit/internal/users"
)

type profilePayload struct {
	UserID          string `json:"user_id"`
	Handle          string `json:"handle"`
	DisplayName     string `json:"display_name"`
	Bio             string `json:"bio"`
	Location        string `json:"location"`
	AvatarURL       string `json:"avatar_url"`
	CoverURL        string `json:"cover_url"`
	CreatedAtMillis int64  `json:"created_at_ms"`
	UpdatedAtMillis int64  `json:"updated_at_ms"`
}

func profileToPayload(user users.User) profilePayload {
	return profilePayload{
		UserID:          user.UserID,
		Handle:          user.Handle,
		DisplayName:     user.DisplayName,
		Bio:             user.Bio,
		Location:        user.Location,
		AvatarURL:       user.AvatarURL,
		CoverURL:        user.CoverURL,
		CreatedAtMillis: user.CreatedAtMillis,
		UpdatedAtMillis: user.UpdatedAtMillis,
	}
}

type profileViewPayload struct {
	profilePayload
	ConnectionsCount int `json:"connections_count"`
	FollowersCount   int `json:"followers_count"`
	FollowingCount   int `json:"following_count"`
}

func (h *httpHandler) handleGetOwnProfile(c *gin.Context) {
	h.renderProfile(c, h.callerID(c))
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	h.renderProfile(c, c.Param("userID"))
}

func (h *httpHandler) renderProfile(c *gin.Context, userID string) {
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "profile lookup")
		return
	}
	summary, err := h.social.Summary(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "relationship summary")
		return
	}
	c.JSON(http.StatusOK, profileViewPayload{
		profilePayload:   profileToPayload(user),
		ConnectionsCount: len(summary.Connections),
		FollowersCount:   len(summary.Followers),
		FollowingCount:   len(summary.Following),
	})
}

type profileUpdatePayload struct {
	Handle      *string `json:"handle"`
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	Location    *string `json:"location"`
	AvatarURL   *string `json:"avatar_url"`
	CoverURL    *string `json:"cover_url"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), h.callerID(c), users.ProfileUpdate{
		Handle:      request.Handle,
		DisplayName: request.DisplayName,
		Bio:         request.Bio,
		Location:    request.Location,
		AvatarURL:   request.AvatarURL,
		CoverURL:    request.CoverURL,
	})
	if err != nil {
		h.respondError(c, err, "profile update")
		return
	}
	c.JSON(http.StatusOK, profileToPayload(user))
}

func (h *httpHandler) handleFollow(c *gin.Context) {
	if err := h.social.Follow(c.Request.Context(), h.callerID(c), c.Param("userID")); err != nil {
		h.respondError(c, err, "follow")
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": true})
}

func (h *httpHandler) handleUnfollow(c *gin.Context) {
	if err := h.social.Unfollow(c.Request.Context(), h.callerID(c), c.Param("userID")); err != nil {
		h.respondError(c, err, "unfollow")
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": false})
}

type connectionRequestPayload struct {
	ToUserID string `json:"to_user_id"`
}

type connectionRequestResponse struct {
	RequestID       string `json:"request_id"`
	FromUserID      string `json:"from_user_id"`
	ToUserID        string `json:"to_user_id"`
	Status          string `json:"status"`
	CreatedAtMillis int64  `json:"created_at_ms"`
}

func requestToPayload(request social.ConnectionRequest) connectionRequestResponse {
	return connectionRequestResponse{
		RequestID:       request.RequestID,
		FromUserID:      request.FromUserID,
		ToUserID:        request.ToUserID,
		Status:          string(request.Status),
		CreatedAtMillis: request.CreatedAtMillis,
	}
}

func (h *httpHandler) handleRequestConnection(c *gin.Context) {
	var request connectionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ToUserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	created, err := h.social.RequestConnection(c.Request.Context(), h.callerID(c), request.ToUserID)
	if err != nil {
		h.respondError(c, err, "connection request")
		return
	}
	c.JSON(http.StatusCreated, requestToPayload(created))
}

type connectionAcceptPayload struct {
	FromUserID string `json:"from_user_id"`
}

func (h *httpHandler) handleAcceptConnection(c *gin.Context) {
	var request connectionAcceptPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.FromUserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.social.AcceptConnection(c.Request.Context(), h.callerID(c), request.FromUserID); err != nil {
		h.respondError(c, err, "connection accept")
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true})
}

type connectionsResponse struct {
	Connections     []string                    `json:"connections"`
	Followers       []string                    `json:"followers"`
	Following       []string                    `json:"following"`
	PendingIncoming []connectionRequestResponse `json:"pending_incoming"`
}

func (h *httpHandler) handleConnections(c *gin.Context) {
	summary, err := h.social.Summary(c.Request.Context(), h.callerID(c))
	if err != nil {
		h.respondError(c, err, "relationship summary")
		return
	}
	pending := make([]connectionRequestResponse, 0, len(summary.PendingIncoming))
	for _, request := range summary.PendingIncoming {
		pending = append(pending, requestToPayload(request))
	}
	c.JSON(http.StatusOK, connectionsResponse{
		Connections:     emptyIfNil(summary.Connections),
		Followers:       emptyIfNil(summary.Followers),
		Following:       emptyIfNil(summary.Following),
		PendingIncoming: pending,
	})
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type createPostPayload struct {
	Content string   `json:"content"`
	Images  []string `json:"images"`
	Type    string   `json:"type"`
}

type postPayload struct {
	PostID          string   `json:"post_id"`
	AuthorID        string   `json:"author_id"`
	Content         string   `json:"content"`
	ImageURLs       []string `json:"image_urls"`
	Type            string   `json:"type"`
	LikedBy         []string `json:"liked_by"`
	CreatedAtMillis int64    `json:"created_at_ms"`
}

func postViewToPayload(view content.PostView) postPayload {
	return postPayload{
		PostID:          view.PostID,
		AuthorID:        view.AuthorID,
		Content:         view.Content,
		ImageURLs:       emptyIfNil(view.ImageURLs),
		Type:            string(view.Type),
		LikedBy:         emptyIfNil(view.LikedBy),
		CreatedAtMillis: view.CreatedAtMillis,
	}
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	post, err := h.content.CreatePost(c.Request.Context(), h.callerID(c), content.CreatePostInput{
		Content: request.Content,
		Images:  request.Images,
		Type:    content.PostType(request.Type),
	})
	if err != nil {
		h.respondError(c, err, "post create")
		return
	}
	images, err := post.Images()
	if err != nil {
		h.respondError(c, err, "post image decode")
		return
	}
	c.JSON(http.StatusCreated, postViewToPayload(content.PostView{Post: post, ImageURLs: images}))
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	liked, err := h.content.ToggleLike(c.Request.Context(), c.Param("postID"), h.callerID(c))
	if err != nil {
		h.respondError(c, err, "like toggle")
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	views, err := h.content.Feed(c.Request.Context(), h.callerID(c))
	if err != nil {
		h.respondError(c, err, "feed")
		return
	}
	posts := make([]postPayload, 0, len(views))
	for _, view := range views {
		posts = append(posts, postViewToPayload(view))
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

type createStoryPayload struct {
	Content         string `json:"content"`
	MediaURL        string `json:"media_url"`
	MediaType       string `json:"media_type"`
	BackgroundColor string `json:"background_color"`
}

type storyPayload struct {
	StoryID         string `json:"story_id"`
	AuthorID        string `json:"author_id"`
	Content         string `json:"content"`
	MediaURL        string `json:"media_url"`
	MediaType       string `json:"media_type"`
	BackgroundColor string `json:"background_color"`
	CreatedAtMillis int64  `json:"created_at_ms"`
}

func storyToPayload(story content.Story) storyPayload {
	return storyPayload{
		StoryID:         story.StoryID,
		AuthorID:        story.AuthorID,
		Content:         story.Content,
		MediaURL:        story.MediaURL,
		MediaType:       string(story.MediaType),
		BackgroundColor: story.BackgroundColor,
		CreatedAtMillis: story.CreatedAtMillis,
	}
}

func (h *httpHandler) handleCreateStory(c *gin.Context) {
	var request createStoryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	story, err := h.content.CreateStory(c.Request.Context(), h.callerID(c), content.CreateStoryInput{
		Content:         request.Content,
		MediaURL:        request.MediaURL,
		MediaType:       content.StoryMediaType(request.MediaType),
		BackgroundColor: request.BackgroundColor,
	})
	if err != nil {
		h.respondError(c, err, "story create")
		return
	}
	c.JSON(http.StatusCreated, storyToPayload(story))
}

func (h *httpHandler) handleStories(c *gin.Context) {
	stories, err := h.content.ActiveStories(c.Request.Context(), h.callerID(c))
	if err != nil {
		h.respondError(c, err, "stories")
		return
	}
	payload := make([]storyPayload, 0, len(stories))
	for _, story := range stories {
		payload = append(payload, storyToPayload(story))
	}
	c.JSON(http.StatusOK, gin.H{"stories": payload})
}

type sendMessagePayload struct {
	ToUserID string `json:"to_user_id"`
	Text     string `json:"text"`
	MediaURL string `json:"media_url"`
	Type     string `json:"type"`
}

type messagePayload struct {
	MessageID       string `json:"message_id"`
	FromUserID      string `json:"from_user_id"`
	ToUserID        string `json:"to_user_id"`
	Text            string `json:"text"`
	MediaURL        string `json:"media_url"`
	Type            string `json:"type"`
	Seen            bool   `json:"seen"`
	CreatedAtMillis int64  `json:"created_at_ms"`
}

func messageToPayload(message messaging.Message) messagePayload {
	return messagePayload{
		MessageID:       message.MessageID,
		FromUserID:      message.FromUserID,
		ToUserID:        message.ToUserID,
		Text:            message.Text,
		MediaURL:        message.MediaURL,
		Type:            string(message.Type),
		Seen:            message.Seen,
		CreatedAtMillis: message.CreatedAtMillis,
	}
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ToUserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.messaging.Send(c.Request.Context(), h.callerID(c), request.ToUserID, messaging.SendInput{
		Text:     request.Text,
		MediaURL: request.MediaURL,
		Type:     messaging.MessageType(request.Type),
	})
	if err != nil {
		h.respondError(c, err, "message send")
		return
	}
	c.JSON(http.StatusCreated, messageToPayload(message))
}

func (h *httpHandler) handleThread(c *gin.Context) {
	messages, err := h.messaging.Thread(c.Request.Context(), h.callerID(c), c.Param("userID"))
	if err != nil {
		h.respondError(c, err, "thread")
		return
	}
	payload := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		payload = append(payload, messageToPayload(message))
	}
	c.JSON(http.StatusOK, gin.H{"messages": payload})
}

type conversationPayload struct {
	PeerID      string         `json:"peer_id"`
	LastMessage messagePayload `json:"last_message"`
	UnseenCount int64          `json:"unseen_count"`
}

func (h *httpHandler) handleConversations(c *gin.Context) {
	conversations, err := h.messaging.Conversations(c.Request.Context(), h.callerID(c))
	if err != nil {
		h.respondError(c, err, "conversations")
		return
	}
	payload := make([]conversationPayload, 0, len(conversations))
	for _, conversation := range conversations {
		payload = append(payload, conversationPayload{
			PeerID:      conversation.PeerID,
			LastMessage: messageToPayload(conversation.LastMessage),
			UnseenCount: conversation.UnseenCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": payload})
}

func (h *httpHandler) handleUploadURL(c *gin.Context) {
	if h.media == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media_unavailable"})
		return
	}
	fileName := strings.TrimSpace(c.Query("file_name"))
	contentType := strings.TrimSpace(c.Query("content_type"))
	if fileName == "" || contentType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	uploadURL, objectKey, err := h.media.UploadURL(c.Request.Context(), fileName, contentType)
	if err != nil {
		h.logger.Error("upload url presign failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": uploadURL, "object_key": objectKey})
}
