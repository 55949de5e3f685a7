package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitsocial/orbit/internal/events"
	"github.com/orbitsocial/orbit/internal/ident"
	"github.com/orbitsocial/orbit/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// maxRequestsPerWindow bounds connection requests created by one user
	// inside the trailing window, counting rows of any status.
	maxRequestsPerWindow = 20
	requestWindow        = 24 * time.Hour
)

var (
	// ErrNotFound indicates a referenced user or pending request is absent.
	ErrNotFound = errors.New("social: not found")
	// ErrInvalidTarget indicates a forbidden self-reference.
	ErrInvalidTarget = errors.New("social: invalid target")
	// ErrRateLimited indicates the request-creation throttle was exceeded.
	ErrRateLimited = errors.New("social: rate limited")

	errMissingDatabase   = errors.New("social: database connection required")
	errMissingIDProvider = errors.New("social: id provider required")
)

// ServiceConfig describes the dependencies of the social graph service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Emitter    events.Emitter
	Logger     *zap.Logger
}

// Service owns the follow graph and the connection request workflow.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ident.Provider
	emitter    events.Emitter
	logger     *zap.Logger
}

// NewService constructs the social graph service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
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
		now:        clock,
		idProvider: cfg.IDProvider,
		emitter:    emitter,
		logger:     logger,
	}, nil
}

// Follow adds a directed follow edge. Following an already-followed user is
// a no-op; following oneself fails.
func (s *Service) Follow(ctx context.Context, followerID, targetID string) error {
	if followerID == targetID {
		return fmt.Errorf("%w: cannot follow self", ErrInvalidTarget)
	}
	if err := s.requireUser(ctx, targetID); err != nil {
		return err
	}

	edge := FollowEdge{
		FollowerID:      followerID,
		FolloweeID:      targetID,
		CreatedAtMillis: s.now().UTC().UnixMilli(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&edge).
		Error
	if err != nil {
		s.logger.Error("follow edge insert failed",
			zap.String("follower_id", followerID),
			zap.String("followee_id", targetID),
			zap.Error(err))
		return err
	}
	return nil
}

// Unfollow removes a directed follow edge; absent edges are a no-op.
func (s *Service) Unfollow(ctx context.Context, followerID, targetID string) error {
	if followerID == targetID {
		return fmt.Errorf("%w: cannot unfollow self", ErrInvalidTarget)
	}
	err := s.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, targetID).
		Delete(&FollowEdge{}).
		Error
	if err != nil {
		s.logger.Error("follow edge delete failed",
			zap.String("follower_id", followerID),
			zap.String("followee_id", targetID),
			zap.Error(err))
	}
	return err
}

// RequestConnection inserts a pending connection request after enforcing the
// sliding-window throttle. The window counts request rows created by the
// sender during the trailing 24 hours regardless of status; counting and
// inserting run in one transaction.
func (s *Service) RequestConnection(ctx context.Context, fromUserID, toUserID string) (ConnectionRequest, error) {
	if fromUserID == toUserID {
		return ConnectionRequest{}, fmt.Errorf("%w: cannot connect to self", ErrInvalidTarget)
	}
	if err := s.requireUser(ctx, toUserID); err != nil {
		return ConnectionRequest{}, err
	}

	requestID, err := s.idProvider.NewID()
	if err != nil {
		return ConnectionRequest{}, err
	}

	now := s.now().UTC()
	request := ConnectionRequest{
		RequestID:       requestID,
		FromUserID:      fromUserID,
		ToUserID:        toUserID,
		Status:          RequestStatusPending,
		CreatedAtMillis: now.UnixMilli(),
		UpdatedAtMillis: now.UnixMilli(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		windowStart := now.Add(-requestWindow).UnixMilli()
		var recent int64
		if err := tx.Model(&ConnectionRequest{}).
			Where("from_user_id = ? AND created_at_ms > ?", fromUserID, windowStart).
			Count(&recent).
			Error; err != nil {
			return err
		}
		if recent >= maxRequestsPerWindow {
			return fmt.Errorf("%w: %d requests in trailing window", ErrRateLimited, recent)
		}
		return tx.Create(&request).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrRateLimited) {
			s.logger.Error("connection request insert failed",
				zap.String("from_user_id", fromUserID),
				zap.String("to_user_id", toUserID),
				zap.Error(txErr))
		}
		return ConnectionRequest{}, txErr
	}

	s.emitter.Emit(ctx, events.Event{
		Name:       events.ConnectionRequested,
		ActorID:    fromUserID,
		SubjectID:  toUserID,
		EntityID:   requestID,
		OccurredAt: now,
	})

	return request, nil
}

// AcceptConnection flips pending requests from requester to accepter into the
// accepted state and records the mutual connection for both members, all in
// one transaction. Only the recipient of a request may accept it.
func (s *Service) AcceptConnection(ctx context.Context, accepterID, requesterID string) error {
	if accepterID == requesterID {
		return fmt.Errorf("%w: cannot accept self", ErrInvalidTarget)
	}

	now := s.now().UTC().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ConnectionRequest{}).
			Where("from_user_id = ? AND to_user_id = ? AND status = ?",
				requesterID, accepterID, RequestStatusPending).
			Updates(map[string]interface{}{
				"status":        RequestStatusAccepted,
				"updated_at_ms": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: no pending request from %s", ErrNotFound, requesterID)
		}

		memberships := []Connection{
			{UserID: accepterID, PeerID: requesterID, CreatedAtMillis: now},
			{UserID: requesterID, PeerID: accepterID, CreatedAtMillis: now},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&memberships).
			Error
	})
}

// Summary returns the relationship view for one user: accepted connections,
// followers, following, and pending incoming requests.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return Summary{}, err
	}

	summary := Summary{}
	if err := s.db.WithContext(ctx).Model(&Connection{}).
		Where("user_id = ?", userID).
		Order("peer_id ASC").
		Pluck("peer_id", &summary.Connections).
		Error; err != nil {
		return Summary{}, err
	}
	if err := s.db.WithContext(ctx).Model(&FollowEdge{}).
		Where("followee_id = ?", userID).
		Order("follower_id ASC").
		Pluck("follower_id", &summary.Followers).
		Error; err != nil {
		return Summary{}, err
	}
	if err := s.db.WithContext(ctx).Model(&FollowEdge{}).
		Where("follower_id = ?", userID).
		Order("followee_id ASC").
		Pluck("followee_id", &summary.Following).
		Error; err != nil {
		return Summary{}, err
	}
	if err := s.db.WithContext(ctx).
		Where("to_user_id = ? AND status = ?", userID, RequestStatusPending).
		Order("created_at_ms ASC").
		Find(&summary.PendingIncoming).
		Error; err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// ConnectionIDs returns the accepted connection peer ids for a user.
func (s *Service) ConnectionIDs(ctx context.Context, userID string) ([]string, error) {
	var peers []string
	err := s.db.WithContext(ctx).Model(&Connection{}).
		Where("user_id = ?", userID).
		Pluck("peer_id", &peers).
		Error
	return peers, err
}

// FollowingIDs returns the ids a user follows.
func (s *Service) FollowingIDs(ctx context.Context, userID string) ([]string, error) {
	var followees []string
	err := s.db.WithContext(ctx).Model(&FollowEdge{}).
		Where("follower_id = ?", userID).
		Pluck("followee_id", &followees).
		Error
	return followees, err
}

func (s *Service) requireUser(ctx context.Context, userID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&users.User{}).
		Where("user_id = ?", userID).
		Count(&count).
		Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}
