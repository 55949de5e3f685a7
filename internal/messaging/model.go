package messaging

// MessageType enumerates supported direct message payloads.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeImage is an image message referencing an uploaded URL.
	MessageTypeImage MessageType = "image"
)

// Message is a persisted direct message. Persistence is the durability
// boundary; realtime delivery is an optimization layered on top. The
// auto-increment row id preserves per-sender persist order for equal
// timestamps.
type Message struct {
	ID              uint        `gorm:"column:id;primaryKey"`
	MessageID       string      `gorm:"column:message_id;size:190;uniqueIndex;not null"`
	FromUserID      string      `gorm:"column:from_user_id;size:190;not null;index:idx_messages_pair,priority:1"`
	ToUserID        string      `gorm:"column:to_user_id;size:190;not null;index:idx_messages_pair,priority:2;index"`
	Text            string      `gorm:"column:text;type:text"`
	MediaURL        string      `gorm:"column:media_url;size:512"`
	Type            MessageType `gorm:"column:type;size:20;not null"`
	Seen            bool        `gorm:"column:seen;not null;default:false"`
	CreatedAtMillis int64       `gorm:"column:created_at_ms;not null;index"`
}

// TableName exposes the table backing direct messages.
func (Message) TableName() string {
	return "messages"
}

// Conversation summarizes the latest exchange with one peer.
type Conversation struct {
	PeerID      string
	LastMessage Message
	UnseenCount int64
}

// SendInput describes a message send request.
type SendInput struct {
	Text     string
	MediaURL string
	Type     MessageType
}
