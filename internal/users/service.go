package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitsocial/orbit/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the referenced user does not exist.
	ErrNotFound = errors.New("users: user not found")
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrValidation indicates a malformed profile edit.
	ErrValidation = errors.New("users: invalid profile input")
)

// ServiceConfig describes the dependencies required for profile management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages user profile records keyed by identity-provider subject.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// EnsureUser creates the profile row on first authenticated contact and
// refreshes provider-supplied fields on later contacts. Profile fields the
// user has edited locally are never clobbered by empty provider claims.
func (s *Service) EnsureUser(ctx context.Context, claims auth.IdentityClaims) (User, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return User{}, ErrInvalidIdentity
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("user_id = ?", subject).
		First(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := s.now().UTC().UnixMilli()
		user = User{
			UserID:          subject,
			Handle:          defaultHandle(subject),
			DisplayName:     normalize(claims.DisplayName),
			AvatarURL:       normalize(claims.AvatarURL),
			CreatedAtMillis: now,
			UpdatedAtMillis: now,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			s.logger.Error("user create failed", zap.String("user_id", subject), zap.Error(err))
			return User{}, err
		}
		return user, nil
	}
	if err != nil {
		return User{}, err
	}

	updates := map[string]interface{}{}
	if display := normalize(claims.DisplayName); display != "" && user.DisplayName == "" {
		updates["display_name"] = display
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" && user.AvatarURL == "" {
		updates["avatar_url"] = avatar
	}
	if len(updates) > 0 {
		updates["updated_at_ms"] = s.now().UTC().UnixMilli()
		if err := s.db.WithContext(ctx).Model(&User{}).
			Where("user_id = ?", subject).
			Updates(updates).
			Error; err != nil {
			s.logger.Warn("user refresh failed", zap.String("user_id", subject), zap.Error(err))
		}
	}

	return user, nil
}

// Get returns the profile for the provided user id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	id := normalize(userID)
	if id == "" {
		return User{}, ErrNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateProfile applies a partial edit to the caller's own profile.
func (s *Service) UpdateProfile(ctx context.Context, userID string, edit ProfileUpdate) (User, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return User{}, err
	}

	updates := map[string]interface{}{}
	if edit.Handle != nil {
		handle := normalize(*edit.Handle)
		if handle == "" || len(handle) > 64 {
			return User{}, fmt.Errorf("%w: handle", ErrValidation)
		}
		updates["handle"] = handle
	}
	if edit.DisplayName != nil {
		updates["display_name"] = normalize(*edit.DisplayName)
	}
	if edit.Bio != nil {
		if len(*edit.Bio) > 512 {
			return User{}, fmt.Errorf("%w: bio too long", ErrValidation)
		}
		updates["bio"] = normalize(*edit.Bio)
	}
	if edit.Location != nil {
		updates["location"] = normalize(*edit.Location)
	}
	if edit.AvatarURL != nil {
		updates["avatar_url"] = normalize(*edit.AvatarURL)
	}
	if edit.CoverURL != nil {
		updates["cover_url"] = normalize(*edit.CoverURL)
	}

	if len(updates) > 0 {
		updates["updated_at_ms"] = s.now().UTC().UnixMilli()
		if err := s.db.WithContext(ctx).Model(&User{}).
			Where("user_id = ?", normalize(userID)).
			Updates(updates).
			Error; err != nil {
			s.logger.Error("profile update failed", zap.String("user_id", userID), zap.Error(err))
			return User{}, err
		}
	}

	return s.Get(ctx, userID)
}

// Exists reports whether a profile row is present for the user id.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("user_id = ?", normalize(userID)).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func defaultHandle(subject string) string {
	return "user-" + subject
}
