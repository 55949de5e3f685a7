package messaging

import (
	"sync"

	"go.uber.org/zap"
)

const defaultHandleBuffer = 16

// Handle is one live receive channel for a user. The stream is buffered;
// the hub never blocks on it and never closes it; the reader exits when
// its transport context ends and the handle becomes garbage.
type Handle struct {
	id     int64
	stream chan Message
}

// Stream exposes the receive side of the handle.
func (h *Handle) Stream() <-chan Message {
	return h.stream
}

// Hub routes freshly persisted messages to the recipient's live channel.
// It holds only transient routing state: nothing survives a restart, and
// clients are expected to re-establish their channel after one. At most one
// handle is registered per user; opening a new channel supersedes the old
// mapping (last-writer-wins) without tearing the old transport down.
type Hub struct {
	mu         sync.RWMutex
	channels   map[string]*Handle
	nextID     int64
	bufferSize int
	logger     *zap.Logger
}

// NewHub constructs an empty delivery hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels:   make(map[string]*Handle),
		bufferSize: defaultHandleBuffer,
		logger:     logger,
	}
}

// Open registers a live channel for the user, superseding any prior handle.
// A superseded handle stops receiving pushes but is not closed here; its
// reader notices the disconnect through its own transport.
func (h *Hub) Open(userID string) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	handle := &Handle{
		id:     h.nextID,
		stream: make(chan Message, h.bufferSize),
	}
	h.channels[userID] = handle
	return handle
}

// Close removes the registration only when the supplied handle is still the
// registered one, so a stale close never evicts a newer channel.
func (h *Hub) Close(userID string, handle *Handle) {
	if handle == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.channels[userID]; ok && current == handle {
		delete(h.channels, userID)
	}
}

// Deliver pushes the message to the recipient's live channel if one exists.
// The push is best-effort: no registered channel, or a full buffer (a
// stalled reader), drops the push silently. The message is already durable
// and the recipient will see it on the next thread query. Deliver never
// blocks, so a slow recipient cannot delay the sender's request.
func (h *Hub) Deliver(message Message) bool {
	h.mu.RLock()
	handle, ok := h.channels[message.ToUserID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case handle.stream <- message:
		return true
	default:
		h.logger.Debug("realtime push dropped",
			zap.String("to_user_id", message.ToUserID),
			zap.String("message_id", message.MessageID))
		return false
	}
}

// OpenCount reports the number of registered live channels.
func (h *Hub) OpenCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
