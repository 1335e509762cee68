package models

import "time"

// TargetKind names the kind of content a vote points at.
type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetComment TargetKind = "comment"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	return k == TargetPost || k == TargetComment
}

// Table returns the table holding the counters for targets of this kind.
func (k TargetKind) Table() string {
	if k == TargetComment {
		return "comments"
	}
	return "posts"
}

// Vote model - one row per (voter, target)
type Vote struct {
	ID         int        `gorm:"primaryKey" json:"id"`
	VoterID    int        `gorm:"not null;uniqueIndex:idx_votes_voter_target,priority:1" json:"voter_id"`
	TargetKind TargetKind `gorm:"type:varchar(10);not null;uniqueIndex:idx_votes_voter_target,priority:2;index:idx_votes_target,priority:1" json:"target_kind"`
	TargetID   int        `gorm:"not null;uniqueIndex:idx_votes_voter_target,priority:3;index:idx_votes_target,priority:2" json:"target_id"`
	Value      int        `gorm:"type:smallint;not null;check:chk_votes_value,value IN (-1, 1)" json:"value"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type VoteRequest struct {
	Value int `json:"value" binding:"required"`
}

// VoteTransition is the ledger change a cast produced.
type VoteTransition string

const (
	VoteAdded   VoteTransition = "added"
	VoteRemoved VoteTransition = "removed"
	VoteChanged VoteTransition = "changed"
)
