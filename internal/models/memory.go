package models

import "time"

// Memory statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Memory is a recorded video shared to one or more families.
type Memory struct {
	ID            string     `json:"id"`
	AuthorID      string     `json:"authorId"`
	FamilyIDs     []string   `json:"familyIds"`
	VideoURL      string     `json:"videoUrl"`
	VideoPath     string     `json:"videoPath,omitempty"`
	ThumbnailURL  string     `json:"thumbnailUrl,omitempty"`
	ThumbnailPath string     `json:"thumbnailPath,omitempty"`
	Status        string     `json:"status"`
	QuestionID    string     `json:"questionId,omitempty"`
	Likes         []string   `json:"likes"`
	Comments      []Comment  `json:"comments"`
	CreatedAt     time.Time  `json:"createdAt"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
}

// IsDraft reports whether the memory is still private to its author.
func (m Memory) IsDraft() bool {
	return m.Status == StatusDraft
}

// Comment is an entry of a memory's append-only comment list.
type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
