package users

import "strings"

// User captures the profile record for an externally identified user.
// The identifier is issued by the identity provider and never changes.
type User struct {
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Handle          string `gorm:"column:handle;size:64;uniqueIndex;not null"`
	DisplayName     string `gorm:"column:display_name;size:320"`
	Bio             string `gorm:"column:bio;size:512"`
	Location        string `gorm:"column:location;size:190"`
	AvatarURL       string `gorm:"column:avatar_url;size:512"`
	CoverURL        string `gorm:"column:cover_url;size:512"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName exposes the table backing user profiles.
func (User) TableName() string {
	return "users"
}

// ProfileUpdate describes a partial profile edit; nil fields are untouched.
type ProfileUpdate struct {
	Handle      *string
	DisplayName *string
	Bio         *string
	Location    *string
	AvatarURL   *string
	CoverURL    *string
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
