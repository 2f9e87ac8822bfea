package models

import (
	"errors"
	"slices"
)

// ErrFamilyInvariant is returned when createdBy ∈ admins ⊆ members does not hold.
var ErrFamilyInvariant = errors.New("family membership invariant violated")

// Family is a private group of users sharing memories and questions.
type Family struct {
	ID              string   `json:"id"`
	FamilyName      string   `json:"familyName"`
	DefaultLanguage string   `json:"defaultLanguage"`
	Members         []string `json:"members"`
	Admins          []string `json:"admins"`
	CreatedBy       string   `json:"createdBy"`
}

// NewFamily builds a family whose creator is its first admin and member.
func NewFamily(id, name, lang, creator string) Family {
	return Family{
		ID:              id,
		FamilyName:      name,
		DefaultLanguage: lang,
		Members:         []string{creator},
		Admins:          []string{creator},
		CreatedBy:       creator,
	}
}

// Validate checks createdBy ∈ admins ⊆ members.
func (f Family) Validate() error {
	if !slices.Contains(f.Admins, f.CreatedBy) {
		return ErrFamilyInvariant
	}
	for _, a := range f.Admins {
		if !slices.Contains(f.Members, a) {
			return ErrFamilyInvariant
		}
	}
	return nil
}

// IsMember reports whether uid belongs to the family.
func (f Family) IsMember(uid string) bool {
	return slices.Contains(f.Members, uid)
}

// IsAdmin reports whether uid administers the family.
func (f Family) IsAdmin(uid string) bool {
	return slices.Contains(f.Admins, uid)
}
