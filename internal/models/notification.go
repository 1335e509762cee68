package models

import "time"

type NotificationKind string

const (
	NotificationMention NotificationKind = "mention"
	NotificationReply   NotificationKind = "reply"
	NotificationVote    NotificationKind = "vote"
)

// Notification rows are never deleted by the core; PostID and CommentID are
// plain references so they outlive a deleted comment subtree.
type Notification struct {
	ID          int              `gorm:"primaryKey" json:"id"`
	RecipientID int              `gorm:"not null;index:idx_notifications_recipient,priority:1" json:"recipient_id"`
	SenderID    int              `gorm:"not null" json:"sender_id"`
	Kind        NotificationKind `gorm:"type:varchar(10);not null" json:"kind"`
	PostID      *int             `json:"post_id,omitempty"`
	CommentID   *int             `json:"comment_id,omitempty"`
	Text        string           `gorm:"type:varchar(255);not null" json:"text"`
	IsRead      bool             `gorm:"not null;default:false;index:idx_notifications_recipient,priority:2" json:"is_read"`
	CreatedAt   time.Time        `json:"created_at"`
}
