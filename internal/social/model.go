package social

// RequestStatus enumerates connection request states. There is no rejected
// or cancelled state; Accepted is terminal.
type RequestStatus string

const (
	// RequestStatusPending marks a request awaiting the recipient's accept.
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusAccepted marks a request that produced a connection.
	RequestStatusAccepted RequestStatus = "accepted"
)

// FollowEdge stores one directed follow relationship.
type FollowEdge struct {
	ID              uint   `gorm:"column:id;primaryKey"`
	FollowerID      string `gorm:"column:follower_id;size:190;not null;uniqueIndex:idx_follow_pair,priority:1;index"`
	FolloweeID      string `gorm:"column:followee_id;size:190;not null;uniqueIndex:idx_follow_pair,priority:2;index"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName exposes the table backing follow edges.
func (FollowEdge) TableName() string {
	return "follow_edges"
}

// Connection stores one direction of an accepted mutual connection. Every
// accepted relationship writes two rows, one per member, so membership
// lookups stay single-column.
type Connection struct {
	ID              uint   `gorm:"column:id;primaryKey"`
	UserID          string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_connection_pair,priority:1;index"`
	PeerID          string `gorm:"column:peer_id;size:190;not null;uniqueIndex:idx_connection_pair,priority:2"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName exposes the table backing connection memberships.
func (Connection) TableName() string {
	return "connections"
}

// ConnectionRequest stores one directed connection request row. Repeated
// requests between the same pair insert repeated pending rows; only the
// sliding-window throttle bounds them.
type ConnectionRequest struct {
	RequestID       string        `gorm:"column:request_id;primaryKey;size:190;not null"`
	FromUserID      string        `gorm:"column:from_user_id;size:190;not null;index:idx_requests_from_created,priority:1"`
	ToUserID        string        `gorm:"column:to_user_id;size:190;not null;index"`
	Status          RequestStatus `gorm:"column:status;size:20;not null"`
	CreatedAtMillis int64         `gorm:"column:created_at_ms;not null;index:idx_requests_from_created,priority:2"`
	UpdatedAtMillis int64         `gorm:"column:updated_at_ms;not null"`
}

// TableName exposes the table backing connection requests.
func (ConnectionRequest) TableName() string {
	return "connection_requests"
}

// Summary bundles the relationship view for one user.
type Summary struct {
	Connections     []string
	Followers       []string
	Following       []string
	PendingIncoming []ConnectionRequest
}
