package content

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PostType enumerates supported post kinds.
type PostType string

const (
	// PostTypeText is a post carrying text only.
	PostTypeText PostType = "text"
	// PostTypeImage is a post carrying images only.
	PostTypeImage PostType = "image"
	// PostTypeTextWithImage carries both.
	PostTypeTextWithImage PostType = "text_with_image"
)

// StoryMediaType enumerates supported story payloads.
type StoryMediaType string

const (
	// StoryMediaText is a text-on-background story.
	StoryMediaText StoryMediaType = "text"
	// StoryMediaImage is an image story.
	StoryMediaImage StoryMediaType = "image"
	// StoryMediaVideo is a video story.
	StoryMediaVideo StoryMediaType = "video"
)

// maxPostImages bounds the ordered image list on a post.
const maxPostImages = 4

// ErrValidation indicates malformed content input.
var ErrValidation = errors.New("content: invalid input")

// Post is immutable after creation except for like membership.
type Post struct {
	ID              uint     `gorm:"column:id;primaryKey"`
	PostID          string   `gorm:"column:post_id;size:190;uniqueIndex;not null"`
	AuthorID        string   `gorm:"column:author_id;size:190;not null;index"`
	Content         string   `gorm:"column:content;type:text"`
	ImagesJSON      string   `gorm:"column:images_json;type:text;not null;default:'[]'"`
	Type            PostType `gorm:"column:type;size:20;not null"`
	CreatedAtMillis int64    `gorm:"column:created_at_ms;not null;index"`
}

// TableName exposes the table backing posts.
func (Post) TableName() string {
	return "posts"
}

// Images decodes the ordered image URL list.
func (p Post) Images() ([]string, error) {
	if p.ImagesJSON == "" {
		return nil, nil
	}
	var images []string
	if err := json.Unmarshal([]byte(p.ImagesJSON), &images); err != nil {
		return nil, fmt.Errorf("content: decode images for post %s: %w", p.PostID, err)
	}
	return images, nil
}

// PostLike records one user's like on one post.
type PostLike struct {
	ID              uint   `gorm:"column:id;primaryKey"`
	PostID          string `gorm:"column:post_id;size:190;not null;uniqueIndex:idx_post_like,priority:1;index"`
	UserID          string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_post_like,priority:2"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName exposes the table backing post likes.
func (PostLike) TableName() string {
	return "post_likes"
}

// Story expires logically 24 hours after creation; physical deletion is the
// external job runner's concern.
type Story struct {
	ID              uint           `gorm:"column:id;primaryKey"`
	StoryID         string         `gorm:"column:story_id;size:190;uniqueIndex;not null"`
	AuthorID        string         `gorm:"column:author_id;size:190;not null;index"`
	Content         string         `gorm:"column:content;type:text"`
	MediaURL        string         `gorm:"column:media_url;size:512"`
	MediaType       StoryMediaType `gorm:"column:media_type;size:20;not null"`
	BackgroundColor string         `gorm:"column:background_color;size:32"`
	CreatedAtMillis int64          `gorm:"column:created_at_ms;not null;index"`
}

// TableName exposes the table backing stories.
func (Story) TableName() string {
	return "stories"
}

// PostView is a post decorated with its decoded images and like membership.
type PostView struct {
	Post
	ImageURLs []string
	LikedBy   []string
}

// CreatePostInput describes a post creation request.
type CreatePostInput struct {
	Content string
	Images  []string
	Type    PostType
}

// CreateStoryInput describes a story creation request.
type CreateStoryInput struct {
	Content         string
	MediaURL        string
	MediaType       StoryMediaType
	BackgroundColor string
}
