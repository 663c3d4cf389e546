package models

import "time"

// CommentAuthorType identifies who wrote a comment. The value is derived at
// write time from the authenticated actor's profile, never supplied by the
// caller.
type CommentAuthorType string

const (
	AuthorCitizen    CommentAuthorType = "citizen"
	AuthorDepartment CommentAuthorType = "department"
	AuthorMayor      CommentAuthorType = "mayor"
)

// Comment is a threaded remark attached to a request. Immutable after
// creation.
type Comment struct {
	ID         string            `db:"id" json:"id"`
	RequestID  string            `db:"request_id" json:"request_id"`
	AuthorID   string            `db:"author_id" json:"author_id"`
	AuthorType CommentAuthorType `db:"author_type" json:"author_type"`
	Text       string            `db:"text" json:"text"`
	Internal   bool              `db:"internal" json:"internal"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}
