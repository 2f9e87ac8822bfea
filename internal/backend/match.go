package backend

import (
	"time"

	"memorylane/internal/models"
)

// Matches reports whether a decoded document belongs to the kind's view for filter.
func Matches(kind models.Kind, filter string, doc map[string]any) bool {
	switch kind {
	case models.KindProfile:
		return str(doc["id"]) == filter
	case models.KindFamilies:
		return containsString(stringsOf(doc["members"]), filter)
	case models.KindMemories:
		return str(doc["status"]) == models.StatusPublished && containsString(stringsOf(doc["familyIds"]), filter)
	case models.KindQuestions, models.KindDocuments:
		return str(doc["familyId"]) == filter
	case models.KindDrafts:
		return str(doc["status"]) == models.StatusDraft && str(doc["authorId"]) == filter
	}
	return false
}

// NewestFirst reports whether the kind is ordered by creation time descending.
// Every other kind is ordered by arrival.
func NewestFirst(kind models.Kind) bool {
	return kind == models.KindDocuments
}

// Timestamp extracts the ordering time of a document of the given kind.
func Timestamp(kind models.Kind, doc map[string]any) time.Time {
	field := "createdAt"
	if kind == models.KindDocuments {
		field = "timestamp"
	}
	t, _ := time.Parse(time.RFC3339Nano, str(doc[field]))
	return t
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
