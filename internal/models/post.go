package models

import "time"

type Post struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Title    string `gorm:"not null" json:"title"`
	Body     string `json:"body,omitempty"`
	AuthorID int    `gorm:"not null;index" json:"author_id"`
	User     User   `gorm:"foreignKey:AuthorID" json:"user"`

	// Denormalized vote counters, written only by the counter projector.
	UpvoteCount   int `gorm:"not null;default:0" json:"upvotes"`
	DownvoteCount int `gorm:"not null;default:0" json:"downvotes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Score is upvotes minus downvotes.
func (p *Post) Score() int {
	return p.UpvoteCount - p.DownvoteCount
}

type CreatePostRequest struct {
	Title string `json:"title" binding:"required"`
	Body  string `json:"body"`
}
