package models

import "time"

// FamilyDocument is a file uploaded to a family.
type FamilyDocument struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FamilyID    string    `json:"familyId"`
	FileURL     string    `json:"fileUrl"`
	StoragePath string    `json:"storagePath"`
	AISummary   string    `json:"aiSummary,omitempty"`
	UploaderID  string    `json:"uploaderId"`
	Timestamp   time.Time `json:"timestamp"`
}
