package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orbitsocial/orbit/internal/events"
	"github.com/orbitsocial/orbit/internal/ident"
	"github.com/orbitsocial/orbit/internal/social"
	"github.com/orbitsocial/orbit/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// storyWindow is the trailing interval inside which a story is active. The
// filter lives in the visibility query, not in a storage TTL, so lifecycle
// behavior stays explicit and testable.
const storyWindow = 24 * time.Hour

var (
	// ErrNotFound indicates the referenced user, post, or story is absent.
	ErrNotFound = errors.New("content: not found")

	errMissingDatabase   = errors.New("content: database connection required")
	errMissingIDProvider = errors.New("content: id provider required")
	errMissingGraph      = errors.New("content: social graph required")
)

// ServiceConfig describes the dependencies of the content service.
type ServiceConfig struct {
	Database   *gorm.DB
	Graph      *social.Service
	Clock      func() time.Time
	IDProvider ident.Provider
	Emitter    events.Emitter
	Logger     *zap.Logger
}

// Service owns posts, stories, and the visibility resolver that feeds both
// the feed and the active-stories queries.
type Service struct {
	db         *gorm.DB
	graph      *social.Service
	now        func() time.Time
	idProvider ident.Provider
	emitter    events.Emitter
	logger     *zap.Logger
}

// NewService constructs the content service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Graph == nil {
		return nil, errMissingGraph
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		graph:      cfg.Graph,
		now:        clock,
		idProvider: cfg.IDProvider,
		emitter:    emitter,
		logger:     logger,
	}, nil
}

// CreatePost validates and persists a new post.
func (s *Service) CreatePost(ctx context.Context, authorID string, input CreatePostInput) (Post, error) {
	if err := validatePostInput(input); err != nil {
		return Post{}, err
	}

	postID, err := s.idProvider.NewID()
	if err != nil {
		return Post{}, err
	}

	images := input.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return Post{}, err
	}

	post := Post{
		PostID:          postID,
		AuthorID:        authorID,
		Content:         input.Content,
		ImagesJSON:      string(imagesJSON),
		Type:            input.Type,
		CreatedAtMillis: s.now().UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		s.logger.Error("post insert failed", zap.String("author_id", authorID), zap.Error(err))
		return Post{}, err
	}
	return post, nil
}

// ToggleLike flips the caller's like membership on a post and reports the
// resulting state.
func (s *Service) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Post{}).
		Where("post_id = ?", postID).
		Count(&count).
		Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, fmt.Errorf("%w: post %s", ErrNotFound, postID)
	}

	liked := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&PostLike{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		liked = true
		return tx.Create(&PostLike{
			PostID:          postID,
			UserID:          userID,
			CreatedAtMillis: s.now().UTC().UnixMilli(),
		}).Error
	})
	if err != nil {
		s.logger.Error("like toggle failed",
			zap.String("post_id", postID),
			zap.String("user_id", userID),
			zap.Error(err))
		return false, err
	}
	return liked, nil
}

// CreateStory validates and persists a new story and notifies the trigger
// collaborator so expiry can be scheduled externally.
func (s *Service) CreateStory(ctx context.Context, authorID string, input CreateStoryInput) (Story, error) {
	if err := validateStoryInput(input); err != nil {
		return Story{}, err
	}

	storyID, err := s.idProvider.NewID()
	if err != nil {
		return Story{}, err
	}

	now := s.now().UTC()
	story := Story{
		StoryID:         storyID,
		AuthorID:        authorID,
		Content:         input.Content,
		MediaURL:        input.MediaURL,
		MediaType:       input.MediaType,
		BackgroundColor: input.BackgroundColor,
		CreatedAtMillis: now.UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&story).Error; err != nil {
		s.logger.Error("story insert failed", zap.String("author_id", authorID), zap.Error(err))
		return Story{}, err
	}

	s.emitter.Emit(ctx, events.Event{
		Name:       events.StoryCreated,
		ActorID:    authorID,
		EntityID:   storyID,
		OccurredAt: now,
	})

	return story, nil
}

// VisibleAuthors resolves the author ids whose content the viewer may see:
// the viewer, their accepted connections, and everyone they follow.
func (s *Service) VisibleAuthors(ctx context.Context, viewerID string) ([]string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&users.User{}).
		Where("user_id = ?", viewerID).
		Count(&count).
		Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, viewerID)
	}

	connections, err := s.graph.ConnectionIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	following, err := s.graph.FollowingIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{viewerID: {}}
	authors := []string{viewerID}
	for _, id := range append(connections, following...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		authors = append(authors, id)
	}
	return authors, nil
}

// Feed returns visible posts newest first; rows with equal timestamps keep
// insertion order.
func (s *Service) Feed(ctx context.Context, viewerID string) ([]PostView, error) {
	authors, err := s.VisibleAuthors(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	var posts []Post
	if err := s.db.WithContext(ctx).
		Where("author_id IN ?", authors).
		Order("created_at_ms DESC, id ASC").
		Find(&posts).
		Error; err != nil {
		return nil, err
	}

	return s.decoratePosts(ctx, posts)
}

// ActiveStories returns visible stories created inside the trailing 24-hour
// window, newest first.
func (s *Service) ActiveStories(ctx context.Context, viewerID string) ([]Story, error) {
	authors, err := s.VisibleAuthors(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().UTC().Add(-storyWindow).UnixMilli()
	var stories []Story
	if err := s.db.WithContext(ctx).
		Where("author_id IN ? AND created_at_ms > ?", authors, cutoff).
		Order("created_at_ms DESC, id ASC").
		Find(&stories).
		Error; err != nil {
		return nil, err
	}
	return stories, nil
}

func (s *Service) decoratePosts(ctx context.Context, posts []Post) ([]PostView, error) {
	if len(posts) == 0 {
		return []PostView{}, nil
	}

	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.PostID)
	}

	var likes []PostLike
	if err := s.db.WithContext(ctx).
		Where("post_id IN ?", ids).
		Order("created_at_ms ASC").
		Find(&likes).
		Error; err != nil {
		return nil, err
	}
	likedBy := make(map[string][]string, len(posts))
	for _, like := range likes {
		likedBy[like.PostID] = append(likedBy[like.PostID], like.UserID)
	}

	views := make([]PostView, 0, len(posts))
	for _, post := range posts {
		images, err := post.Images()
		if err != nil {
			return nil, err
		}
		views = append(views, PostView{
			Post:      post,
			ImageURLs: images,
			LikedBy:   likedBy[post.PostID],
		})
	}
	return views, nil
}

func validatePostInput(input CreatePostInput) error {
	if len(input.Images) > maxPostImages {
		return fmt.Errorf("%w: at most %d images", ErrValidation, maxPostImages)
	}
	switch input.Type {
	case PostTypeText:
		if input.Content == "" {
			return fmt.Errorf("%w: text post requires content", ErrValidation)
		}
		if len(input.Images) > 0 {
			return fmt.Errorf("%w: text post cannot carry images", ErrValidation)
		}
	case PostTypeImage:
		if len(input.Images) == 0 {
			return fmt.Errorf("%w: image post requires images", ErrValidation)
		}
	case PostTypeTextWithImage:
		if input.Content == "" || len(input.Images) == 0 {
			return fmt.Errorf("%w: post requires content and images", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown post type %q", ErrValidation, input.Type)
	}
	return nil
}

func validateStoryInput(input CreateStoryInput) error {
	switch input.MediaType {
	case StoryMediaText:
		if input.Content == "" {
			return fmt.Errorf("%w: text story requires content", ErrValidation)
		}
	case StoryMediaImage, StoryMediaVideo:
		if input.MediaURL == "" {
			return fmt.Errorf("%w: media story requires media url", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown story media type %q", ErrValidation, input.MediaType)
	}
	return nil
}
