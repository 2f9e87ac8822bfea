package models

// Backing collections of the document store.
const (
	CollectionUsers     = "users"
	CollectionFamilies  = "families"
	CollectionQuestions = "questions"
	CollectionMemories  = "memories"
	CollectionDocuments = "documents"
)

// Kind names a subscribable, filtered view over one collection.
type Kind string

const (
	KindProfile   Kind = "profile"
	KindFamilies  Kind = "families"
	KindMemories  Kind = "memories"
	KindQuestions Kind = "questions"
	KindDocuments Kind = "documents"
	KindDrafts    Kind = "drafts"
)

// Kinds lists every subscription kind.
var Kinds = []Kind{KindProfile, KindFamilies, KindMemories, KindQuestions, KindDocuments, KindDrafts}

// Collection returns the collection a kind reads from.
func (k Kind) Collection() string {
	switch k {
	case KindProfile:
		return CollectionUsers
	case KindFamilies:
		return CollectionFamilies
	case KindMemories, KindDrafts:
		return CollectionMemories
	case KindQuestions:
		return CollectionQuestions
	case KindDocuments:
		return CollectionDocuments
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k.Collection() != ""
}

// ValidCollection reports whether name is a known collection.
func ValidCollection(name string) bool {
	switch name {
	case CollectionUsers, CollectionFamilies, CollectionQuestions, CollectionMemories, CollectionDocuments:
		return true
	}
	return false
}
