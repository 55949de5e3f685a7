package social

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/orbitsocial/orbit/internal/events"
	"github.com/orbitsocial/orbit/internal/ident"
	"github.com/orbitsocial/orbit/internal/users"
	"gorm.io/gorm"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(_ context.Context, event events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEmitter) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

type socialFixture struct {
	service *Service
	emitter *captureEmitter
	now     *time.Time
}

func newSocialFixture(t *testing.T, seedUsers ...string) socialFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &FollowEdge{}, &Connection{}, &ConnectionRequest{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	for _, id := range seedUsers {
		user := users.User{UserID: id, Handle: "user-" + id}
		if err := db.Create(&user).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}

	now := time.Unix(1700000000, 0).UTC()
	emitter := &captureEmitter{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return now },
		IDProvider: ident.NewUUIDProvider(),
		Emitter:    emitter,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return socialFixture{service: service, emitter: emitter, now: &now}
}

func TestFollowIsIdempotent(t *testing.T) {
	fx := newSocialFixture(t, "alice", "bob")
	ctx := context.Background()

	if err := fx.service.Follow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fx.service.Follow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("expected repeated follow to succeed: %v", err)
	}

	summary, err := fx.service.Summary(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Following) != 1 || summary.Following[0] != "bob" {
		t.Fatalf("unexpected following set %#v", summary.Following)
	}

	bobSummary, err := fx.service.Summary(ctx, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bobSummary.Followers) != 1 || bobSummary.Followers[0] != "alice" {
		t.Fatalf("unexpected followers set %#v", bobSummary.Followers)
	}
}

func TestFollowRejectsSelf(t *testing.T) {
	fx := newSocialFixture(t, "alice")

	err := fx.service.Follow(context.Background(), "alice", "alice")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected invalid target error, got %v", err)
	}
}

func TestFollowRejectsUnknownTarget(t *testing.T) {
	fx := newSocialFixture(t, "alice")

	err := fx.service.Follow(context.Background(), "alice", "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestUnfollowIsIdempotent(t *testing.T) {
	fx := newSocialFixture(t, "alice", "bob")
	ctx := context.Background()

	if err := fx.service.Follow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fx.service.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := fx.service.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("expected absent edge unfollow to succeed: %v", err)
	}

	summary, err := fx.service.Summary(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Following) != 0 {
		t.Fatalf("expected empty following set, got %#v", summary.Following)
	}
}

func TestRequestConnectionRejectsSelf(t *testing.T) {
	fx := newSocialFixture(t, "alice")

	_, err := fx.service.RequestConnection(context.Background(), "alice", "alice")
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected invalid target error, got %v", err)
	}
}

func TestRequestConnectionEmitsEvent(t *testing.T) {
	fx := newSocialFixture(t, "alice", "bob")

	request, err := fx.service.RequestConnection(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if request.Status != RequestStatusPending {
		t.Fatalf("unexpected status %s", request.Status)
	}

	emitted := fx.emitter.all()
	if len(emitted) != 1 {
		t.Fatalf("expected one event, got %d", len(emitted))
	}
	if emitted[0].Name != events.ConnectionRequested {
		t.Fatalf("unexpected event name %s", emitted[0].Name)
	}
	if emitted[0].ActorID != "alice" || emitted[0].SubjectID != "bob" {
		t.Fatalf("unexpected event participants %s -> %s", emitted[0].ActorID, emitted[0].SubjectID)
	}
	if emitted[0].EntityID != request.RequestID {
		t.Fatalf("unexpected event entity %s", emitted[0].EntityID)
	}
}

func TestRequestConnectionSlidingWindowThrottle(t *testing.T) {
	fx := newSocialFixture(t, "alice", "bob")
	ctx := context.Background()

	for i := 0; i < maxRequestsPerWindow; i++ {
		if _, err := fx.service.RequestConnection(ctx, "alice", "bob"); err != nil {
			t.Fatalf("request %d should succeed: %v", i+1, err)
		}
		*fx.now = fx.now.Add(time.Minute)
	}

	_, err := fx.service.RequestConnection(ctx, "alice", "bob")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited error on request 21, got %v", err)
	}

	// The window slides on creation timestamps: once the oldest request
	// ages out, capacity returns.
	*fx.now = fx.now.Add(24 * time.Hour)
	if _, err := fx.service.RequestConnection(ctx, "alice", "bob"); err != nil {
		t.Fatalf("expected request to succeed after window slides: %v", err)
	}
}

func TestAcceptConnectionCreatesMutualMembership(t *testing.T) {
	fx := newSocialFixture(t, "alice", "bob")
	ctx := context.Background()

	request, err := fx.service.RequestConnection(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := fx.service.AcceptConnection(ctx, "bob", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	aliceSummary, err := fx.service.Summary(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aliceSummary.Connections) != 1 || aliceSummary.Connections[0] != "bob" {
		t.Fatalf("unexpected alice connections %#v", aliceSummary.Connections)
	}

	bobSummary, err := fx.service.Summary(ctx, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bobSummary.Connections) != 1 || bobSummary.Connections[0] != "alice" {
		t.Fatalf("unexpected bob connections %#v", bobSummary.Connections)
	}
	if len(bobSummary.PendingIncoming) != 0 {
		t.Fatalf("expected pending incoming to drain, got %#v", bobSummary.PendingIncoming)
	}

	// Accepted is terminal; a second accept finds no pending row.
	if err := fx.service.AcceptConnection(ctx, "bob", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on repeated accept, got %v", err)
	}

	_ = request
}

func TestAcceptConnectionOnlyRecipientMayAccept(t *testing.T) {
	fx := newSocialFixture(t, "alice", "bob")
	ctx := context.Background()

	if _, err := fx.service.RequestConnection(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The sender attempting to accept their own outbound request fails.
	if err := fx.service.AcceptConnection(ctx, "alice", "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for sender-side accept, got %v", err)
	}
}

func TestSummaryListsPendingIncoming(t *testing.T) {
	fx := newSocialFixture(t, "alice", "bob", "carol")
	ctx := context.Background()

	if _, err := fx.service.RequestConnection(ctx, "alice", "carol"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	*fx.now = fx.now.Add(time.Minute)
	if _, err := fx.service.RequestConnection(ctx, "bob", "carol"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary, err := fx.service.Summary(ctx, "carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.PendingIncoming) != 2 {
		t.Fatalf("expected two pending requests, got %d", len(summary.PendingIncoming))
	}
	if summary.PendingIncoming[0].FromUserID != "alice" {
		t.Fatalf("expected oldest request first, got %s", summary.PendingIncoming[0].FromUserID)
	}
}

func TestSummaryUnknownUser(t *testing.T) {
	fx := newSocialFixture(t)

	_, err := fx.service.Summary(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
