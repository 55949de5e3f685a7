package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/orbitsocial/orbit/internal/ident"
	"github.com/orbitsocial/orbit/internal/users"
	"gorm.io/gorm"
)

type messagingFixture struct {
	service *Service
	hub     *Hub
	now     *time.Time
}

func newMessagingFixture(t *testing.T, seedUsers ...string) messagingFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &Message{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	for _, id := range seedUsers {
		user := users.User{UserID: id, Handle: "user-" + id}
		if err := db.Create(&user).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}

	now := time.Unix(1700000000, 0).UTC()
	hub := NewHub(nil)
	service, err := NewService(ServiceConfig{
		Database:   db,
		Hub:        hub,
		Clock:      func() time.Time { return now },
		IDProvider: ident.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return messagingFixture{service: service, hub: hub, now: &now}
}

func TestSendPersistsAndPushes(t *testing.T) {
	fx := newMessagingFixture(t, "alice", "bob")
	ctx := context.Background()

	handle := fx.hub.Open("alice")

	sent, err := fx.service.Send(ctx, "bob", "alice", SendInput{Text: "hi", Type: MessageTypeText})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent.Seen {
		t.Fatalf("expected new message to start unseen")
	}

	select {
	case pushed := <-handle.Stream():
		if pushed.MessageID != sent.MessageID || pushed.Text != "hi" {
			t.Fatalf("unexpected pushed message %#v", pushed)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected push within the send call")
	}
}

func TestSendAfterChannelClosedFallsBackToPull(t *testing.T) {
	fx := newMessagingFixture(t, "alice", "bob")
	ctx := context.Background()

	handle := fx.hub.Open("alice")

	first, err := fx.service.Send(ctx, "bob", "alice", SendInput{Text: "hi", Type: MessageTypeText})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-handle.Stream()

	fx.hub.Close("alice", handle)
	*fx.now = fx.now.Add(time.Second)

	second, err := fx.service.Send(ctx, "bob", "alice", SendInput{Text: "still there?", Type: MessageTypeText})
	if err != nil {
		t.Fatalf("expected send to succeed without a live channel: %v", err)
	}

	select {
	case <-handle.Stream():
		t.Fatal("closed channel must not receive pushes")
	default:
	}

	thread, err := fx.service.Thread(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("expected both messages in thread, got %d", len(thread))
	}
	if thread[0].MessageID != second.MessageID || thread[1].MessageID != first.MessageID {
		t.Fatalf("expected newest-first thread order")
	}
}

func TestSendValidation(t *testing.T) {
	fx := newMessagingFixture(t, "alice", "bob")
	ctx := context.Background()

	if _, err := fx.service.Send(ctx, "alice", "alice", SendInput{Text: "x", Type: MessageTypeText}); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected invalid target for self message, got %v", err)
	}
	if _, err := fx.service.Send(ctx, "alice", "bob", SendInput{Type: MessageTypeText}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty text, got %v", err)
	}
	if _, err := fx.service.Send(ctx, "alice", "bob", SendInput{Type: "voice"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}
	if _, err := fx.service.Send(ctx, "alice", "bob", SendInput{Type: MessageTypeImage}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for image without url, got %v", err)
	}
	if _, err := fx.service.Send(ctx, "alice", "ghost", SendInput{Text: "x", Type: MessageTypeText}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown recipient, got %v", err)
	}
}

func TestThreadMarksIncomingSeenOnce(t *testing.T) {
	fx := newMessagingFixture(t, "alice", "bob")
	ctx := context.Background()

	if _, err := fx.service.Send(ctx, "bob", "alice", SendInput{Text: "one", Type: MessageTypeText}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	*fx.now = fx.now.Add(time.Second)
	if _, err := fx.service.Send(ctx, "alice", "bob", SendInput{Text: "two", Type: MessageTypeText}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	thread, err := fx.service.Thread(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, message := range thread {
		if message.ToUserID == "alice" && !message.Seen {
			t.Fatalf("expected incoming message to be marked seen")
		}
		if message.FromUserID == "alice" && message.Seen {
			t.Fatalf("outgoing message must not be marked seen by the sender's read")
		}
	}

	// Idempotent side effect: a repeat read observes the same state.
	again, err := fx.service.Thread(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again) != len(thread) {
		t.Fatalf("expected identical thread on repeat read")
	}
	for i := range again {
		if again[i].Seen != thread[i].Seen {
			t.Fatalf("expected seen flags to be stable on repeat read")
		}
	}
}

func TestConversationsSummarizesPeers(t *testing.T) {
	fx := newMessagingFixture(t, "alice", "bob", "carol")
	ctx := context.Background()

	if _, err := fx.service.Send(ctx, "bob", "alice", SendInput{Text: "b1", Type: MessageTypeText}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	*fx.now = fx.now.Add(time.Second)
	if _, err := fx.service.Send(ctx, "bob", "alice", SendInput{Text: "b2", Type: MessageTypeText}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	*fx.now = fx.now.Add(time.Second)
	last, err := fx.service.Send(ctx, "carol", "alice", SendInput{Text: "c1", Type: MessageTypeText})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conversations, err := fx.service.Conversations(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conversations) != 2 {
		t.Fatalf("expected two conversations, got %d", len(conversations))
	}
	if conversations[0].PeerID != "carol" || conversations[0].LastMessage.MessageID != last.MessageID {
		t.Fatalf("expected most recent exchange first, got %#v", conversations[0])
	}
	if conversations[0].UnseenCount != 1 {
		t.Fatalf("expected one unseen from carol, got %d", conversations[0].UnseenCount)
	}
	if conversations[1].PeerID != "bob" || conversations[1].UnseenCount != 2 {
		t.Fatalf("expected two unseen from bob, got %#v", conversations[1])
	}
}
