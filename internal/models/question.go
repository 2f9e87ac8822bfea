package models

import "time"

// Question types.
const (
	QuestionText  = "text"
	QuestionVideo = "video"
)

// Question is a prompt asking family members to respond with a memory.
// AskedByName is copied at creation and never re-synced.
type Question struct {
	ID          string        `json:"id"`
	FamilyID    string        `json:"familyId"`
	AskedBy     string        `json:"askedBy"`
	AskedByName string        `json:"askedByName"`
	Type        string        `json:"type"`
	Text        BilingualText `json:"text"`
	VideoURL    string        `json:"videoUrl,omitempty"`
	Upvotes     []string      `json:"upvotes"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// BilingualText stores the original prompt and its translation.
type BilingualText struct {
	English    string `json:"english"`
	Translated string `json:"translated"`
}
