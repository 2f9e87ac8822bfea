package models

// Theme values stored in UserSettings.Theme.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// DefaultLanguage is the language of a freshly created profile.
const DefaultLanguage = "en"

// User is the profile document of an authenticated identity.
type User struct {
	ID                string       `json:"id"`
	DisplayName       string       `json:"displayName"`
	PhoneNumber       string       `json:"phoneNumber,omitempty"`
	PhotoURL          string       `json:"photoURL,omitempty"`
	FamilyIDs         []string     `json:"familyIds"`
	DefaultFamilyID   *string      `json:"defaultFamilyId,omitempty"`
	PreferredLanguage string       `json:"preferredLanguage"`
	Settings          UserSettings `json:"settings"`
}

// UserSettings holds per-user presentation preferences.
type UserSettings struct {
	Theme string `json:"theme"`
}

// DefaultUser synthesizes the profile written on first sign-in.
func DefaultUser(uid, phone string) User {
	return User{
		ID:                uid,
		DisplayName:       "New member",
		PhoneNumber:       phone,
		FamilyIDs:         []string{},
		PreferredLanguage: DefaultLanguage,
		Settings:          UserSettings{Theme: ThemeLight},
	}
}

// ActiveFamilyID returns the default family id or "".
func (u User) ActiveFamilyID() string {
	if u.DefaultFamilyID == nil {
		return ""
	}
	return *u.DefaultFamilyID
}
