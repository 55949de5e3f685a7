package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitsocial/orbit/internal/ident"
	"github.com/orbitsocial/orbit/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the referenced user is absent.
	ErrNotFound = errors.New("messaging: not found")
	// ErrInvalidTarget indicates a forbidden self-reference.
	ErrInvalidTarget = errors.New("messaging: invalid target")
	// ErrValidation indicates malformed message input.
	ErrValidation = errors.New("messaging: invalid input")

	errMissingDatabase   = errors.New("messaging: database connection required")
	errMissingIDProvider = errors.New("messaging: id provider required")
	errMissingHub        = errors.New("messaging: delivery hub required")
)

// ServiceConfig describes the dependencies of the messaging service.
type ServiceConfig struct {
	Database   *gorm.DB
	Hub        *Hub
	Clock      func() time.Time
	IDProvider ident.Provider
	Logger     *zap.Logger
}

// Service owns direct messages: durable persistence first, realtime push
// second. Delivery outcome never reaches the sender.
type Service struct {
	db         *gorm.DB
	hub        *Hub
	now        func() time.Time
	idProvider ident.Provider
	logger     *zap.Logger
}

// NewService constructs the messaging service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
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
		db:         cfg.Database,
		hub:        cfg.Hub,
		now:        clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Send persists the message, then attempts the realtime push. The persist
// happens inside the request so a sender's messages reach the channel in
// the same order they became durable.
func (s *Service) Send(ctx context.Context, fromUserID, toUserID string, input SendInput) (Message, error) {
	if fromUserID == toUserID {
		return Message{}, fmt.Errorf("%w: cannot message self", ErrInvalidTarget)
	}
	if err := validateSendInput(input); err != nil {
		return Message{}, err
	}
	if err := s.requireUser(ctx, toUserID); err != nil {
		return Message{}, err
	}

	messageID, err := s.idProvider.NewID()
	if err != nil {
		return Message{}, err
	}

	message := Message{
		MessageID:       messageID,
		FromUserID:      fromUserID,
		ToUserID:        toUserID,
		Text:            input.Text,
		MediaURL:        input.MediaURL,
		Type:            input.Type,
		Seen:            false,
		CreatedAtMillis: s.now().UTC().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logger.Error("message insert failed",
			zap.String("from_user_id", fromUserID),
			zap.String("to_user_id", toUserID),
			zap.Error(err))
		return Message{}, err
	}

	s.hub.Deliver(message)

	return message, nil
}

// Thread returns all messages between the viewer and the other party,
// newest first, and marks every message addressed to the viewer as seen.
// The seen transition is one-way and batched; repeating the call changes
// nothing further.
func (s *Service) Thread(ctx context.Context, viewerID, otherID string) ([]Message, error) {
	if err := s.requireUser(ctx, otherID); err != nil {
		return nil, err
	}

	var messages []Message
	err := s.db.WithContext(ctx).
		Where("(from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?)",
			viewerID, otherID, otherID, viewerID).
		Order("created_at_ms DESC, id DESC").
		Find(&messages).
		Error
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("from_user_id = ? AND to_user_id = ? AND seen = ?", otherID, viewerID, false).
		Update("seen", true).
		Error; err != nil {
		s.logger.Error("seen update failed",
			zap.String("viewer_id", viewerID),
			zap.String("other_id", otherID),
			zap.Error(err))
		return nil, err
	}
	for i := range messages {
		if messages[i].ToUserID == viewerID {
			messages[i].Seen = true
		}
	}

	return messages, nil
}

// Conversations folds the viewer's messages into one summary per peer:
// latest message and unseen count, most recent exchange first.
func (s *Service) Conversations(ctx context.Context, viewerID string) ([]Conversation, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("from_user_id = ? OR to_user_id = ?", viewerID, viewerID).
		Order("created_at_ms DESC, id DESC").
		Find(&messages).
		Error
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	conversations := make([]Conversation, 0)
	for _, message := range messages {
		peer := message.FromUserID
		if peer == viewerID {
			peer = message.ToUserID
		}
		at, ok := index[peer]
		if !ok {
			index[peer] = len(conversations)
			conversations = append(conversations, Conversation{PeerID: peer, LastMessage: message})
			at = index[peer]
		}
		if message.ToUserID == viewerID && !message.Seen {
			conversations[at].UnseenCount++
		}
	}
	return conversations, nil
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

func validateSendInput(input SendInput) error {
	switch input.Type {
	case MessageTypeText:
		if input.Text == "" {
			return fmt.Errorf("%w: text message requires text", ErrValidation)
		}
	case MessageTypeImage:
		if input.MediaURL == "" {
			return fmt.Errorf("%w: image message requires media url", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, input.Type)
	}
	return nil
}
