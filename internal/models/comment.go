package models

import "time"

// Comment is a node of a post's discussion tree. Lft/Rgt/Depth encode the node's
// position in the nested-set range space of its post and are only ever written
// by the comments package.
type Comment struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	PostID   int    `gorm:"not null;index:idx_comments_post_lft,priority:1;index:idx_comments_post_rgt,priority:1" json:"post_id"`
	ParentID *int   `gorm:"index" json:"parent_id,omitempty"`
	Body     string `gorm:"not null" json:"body"`
	AuthorID int    `gorm:"not null;index" json:"author_id"`
	User     User   `gorm:"foreignKey:AuthorID" json:"user"`

	Lft   int `gorm:"not null;index:idx_comments_post_lft,priority:2" json:"lft"`
	Rgt   int `gorm:"not null;index:idx_comments_post_rgt,priority:2" json:"rgt"`
	Depth int `gorm:"not null;default:0" json:"depth"`

	UpvoteCount   int `gorm:"not null;default:0" json:"upvotes"`
	DownvoteCount int `gorm:"not null;default:0" json:"downvotes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Score is upvotes minus downvotes.
func (c *Comment) Score() int {
	return c.UpvoteCount - c.DownvoteCount
}

// HasDescendants reports whether the node's range encloses other nodes.
func (c *Comment) HasDescendants() bool {
	return c.Rgt-c.Lft > 1
}

type CreateCommentRequest struct {
	Body     string `json:"body" binding:"required"`
	ParentID *int   `json:"parent_id,omitempty"`
}
