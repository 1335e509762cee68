// Package notifications creates mention, reply and vote notifications and
// serves a user's inbox.
package notifications

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/discuss/backend/internal/apperrors"
	"github.com/emilythestrangee/discuss/backend/internal/metrics"
	"github.com/emilythestrangee/discuss/backend/internal/models"
)

const maxTextLen = 255

// Dispatcher emits notification rows. Emission is best effort: failures are
// logged and counted but never reported to the operation that triggered them.
type Dispatcher struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewDispatcher(db *gorm.DB, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{db: db, metrics: m, log: log}
}

// Reply notifies the author of the replied-to comment, or the post author for
// a root comment, unless that author wrote the reply.
func (d *Dispatcher) Reply(ctx context.Context, comment *models.Comment) {
	n, err := d.reply(ctx, comment)
	d.report(models.NotificationReply, len(n), err, zap.Int("comment_id", comment.ID))
}

// Mentions notifies every known user mentioned in body, once per occurrence.
// commentID is nil for mentions in a post body.
func (d *Dispatcher) Mentions(ctx context.Context, senderID int, body string, postID int, commentID *int) {
	n, err := d.mentions(ctx, senderID, body, postID, commentID)
	d.report(models.NotificationMention, len(n), err, zap.Int("post_id", postID))
}

// VoteCast notifies the target author of an upvote. Retractions, downvotes
// and self-votes produce nothing.
func (d *Dispatcher) VoteCast(ctx context.Context, voterID int, kind models.TargetKind, targetID, value int, transition models.VoteTransition) {
	n, err := d.vote(ctx, voterID, kind, targetID, value, transition)
	d.report(models.NotificationVote, len(n), err,
		zap.String("kind", string(kind)),
		zap.Int("target_id", targetID))
}

func (d *Dispatcher) report(kind models.NotificationKind, created int, err error, fields ...zap.Field) {
	if err != nil {
		d.metrics.Notifications.WithLabelValues(string(kind), "failed").Inc()
		d.log.Warn("Failed to dispatch notification",
			append(fields, zap.String("notification_kind", string(kind)), zap.Error(err))...)
		return
	}
	if created > 0 {
		d.metrics.Notifications.WithLabelValues(string(kind), "created").Add(float64(created))
	}
}

func (d *Dispatcher) reply(ctx context.Context, comment *models.Comment) ([]models.Notification, error) {
	db := d.db.WithContext(ctx)

	var post models.Post
	if err := db.Select("id", "title", "author_id").First(&post, comment.PostID).Error; err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}

	recipient := post.AuthorID
	format := "%s commented on your post '%s'"
	if comment.ParentID != nil {
		var parent models.Comment
		if err := db.Select("id", "author_id").First(&parent, *comment.ParentID).Error; err != nil {
			return nil, fmt.Errorf("failed to load parent comment: %w", err)
		}
		recipient = parent.AuthorID
		format = "%s replied to your comment on '%s'"
	}

	if recipient == comment.AuthorID {
		return nil, nil
	}

	sender, err := d.username(db, comment.AuthorID)
	if err != nil {
		return nil, err
	}

	commentID := comment.ID
	n := []models.Notification{{
		RecipientID: recipient,
		SenderID:    comment.AuthorID,
		Kind:        models.NotificationReply,
		PostID:      &post.ID,
		CommentID:   &commentID,
		Text:        truncate(fmt.Sprintf(format, sender, post.Title)),
	}}
	return n, d.insert(db, n)
}

func (d *Dispatcher) mentions(ctx context.Context, senderID int, body string, postID int, commentID *int) ([]models.Notification, error) {
	names := ParseMentions(body)
	if len(names) == 0 {
		return nil, nil
	}

	db := d.db.WithContext(ctx)

	var users []models.User
	if err := db.Select("id", "username").Where("username IN ?", names).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve mentions: %w", err)
	}
	byName := make(map[string]int, len(users))
	for _, u := range users {
		byName[u.Username] = u.ID
	}

	var post models.Post
	if err := db.Select("id", "title").First(&post, postID).Error; err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}

	sender, err := d.username(db, senderID)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("%s mentioned you in post '%s'", sender, post.Title)
	if commentID != nil {
		text = fmt.Sprintf("%s mentioned you in a comment on '%s'", sender, post.Title)
	}

	var out []models.Notification
	for _, name := range names {
		recipient, ok := byName[name]
		if !ok || recipient == senderID {
			continue
		}
		out = append(out, models.Notification{
			RecipientID: recipient,
			SenderID:    senderID,
			Kind:        models.NotificationMention,
			PostID:      &post.ID,
			CommentID:   commentID,
			Text:        truncate(text),
		})
	}
	return out, d.insert(db, out)
}

func (d *Dispatcher) vote(ctx context.Context, voterID int, kind models.TargetKind, targetID, value int, transition models.VoteTransition) ([]models.Notification, error) {
	if value != 1 || transition == models.VoteRemoved {
		return nil, nil
	}

	db := d.db.WithContext(ctx)

	var (
		recipient int
		postID    int
		commentID *int
		format    string
	)
	switch kind {
	case models.TargetPost:
		var post models.Post
		if err := db.Select("id", "author_id").First(&post, targetID).Error; err != nil {
			return nil, fmt.Errorf("failed to load post: %w", err)
		}
		recipient, postID = post.AuthorID, post.ID
		format = "%s upvoted your post '%s'"
	case models.TargetComment:
		var comment models.Comment
		if err := db.Select("id", "post_id", "author_id").First(&comment, targetID).Error; err != nil {
			return nil, fmt.Errorf("failed to load comment: %w", err)
		}
		recipient, postID, commentID = comment.AuthorID, comment.PostID, &comment.ID
		format = "%s upvoted your comment on '%s'"
	default:
		return nil, apperrors.Validation("unknown target kind %q", kind)
	}

	if recipient == voterID {
		return nil, nil
	}

	var post models.Post
	if err := db.Select("id", "title").First(&post, postID).Error; err != nil {
		return nil, fmt.Errorf("failed to load post title: %w", err)
	}
	sender, err := d.username(db, voterID)
	if err != nil {
		return nil, err
	}

	n := []models.Notification{{
		RecipientID: recipient,
		SenderID:    voterID,
		Kind:        models.NotificationVote,
		PostID:      &postID,
		CommentID:   commentID,
		Text:        truncate(fmt.Sprintf(format, sender, post.Title)),
	}}
	return n, d.insert(db, n)
}

func (d *Dispatcher) username(db *gorm.DB, userID int) (string, error) {
	var user models.User
	if err := db.Select("id", "username").First(&user, userID).Error; err != nil {
		return "", fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return user.Username, nil
}

func (d *Dispatcher) insert(db *gorm.DB, n []models.Notification) error {
	if len(n) == 0 {
		return nil
	}
	if err := db.Create(&n).Error; err != nil {
		return fmt.Errorf("failed to create notifications: %w", err)
	}
	return nil
}

// List returns the user's notifications, unread first, newest first within each group.
func (d *Dispatcher) List(ctx context.Context, userID int) ([]models.Notification, error) {
	var out []models.Notification
	err := d.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Order("is_read ASC").
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// UnreadCount returns how many of the user's notifications are unread.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID int) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks one of the user's notifications as read.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID int) error {
	res := d.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", notificationID, userID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("notification %d not found", notificationID)
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read and returns how many changed.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID int) (int64, error) {
	res := d.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxTextLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxTextLen-3]) + "..."
}
