package app

import (
	"context"
	"io"
	"log"
	"path"
	"strings"

	"memorylane/internal/backend"
	"memorylane/internal/models"
)

// File is a document chosen for upload.
type File struct {
	Name   string    `json:"name" validate:"required,max=200"`
	Size   int64     `json:"size" validate:"gt=0"`
	Reader io.Reader `json:"-" validate:"required"`
}

// UploadDocument stores file under the active family and records it.
func (a *App) UploadDocument(ctx context.Context, file File) (models.FamilyDocument, error) {
	file.Name = path.Base(strings.TrimSpace(file.Name))
	if file.Name == "." || file.Name == "/" {
		file.Name = ""
	}
	if err := a.check(file); err != nil {
		return models.FamilyDocument{}, err
	}
	uid, err := a.uid()
	if err != nil {
		return models.FamilyDocument{}, err
	}
	familyID, err := a.activeFamily()
	if err != nil {
		return models.FamilyDocument{}, err
	}

	id := a.deps.NewID()
	storagePath := "families/" + familyID + "/documents/" + id + "-" + file.Name
	url, err := a.deps.Blobs.UploadBytes(ctx, storagePath, file.Reader, file.Size, nil)
	if err != nil {
		return models.FamilyDocument{}, err
	}

	doc := models.FamilyDocument{
		ID:          id,
		Name:        file.Name,
		FamilyID:    familyID,
		FileURL:     url,
		StoragePath: storagePath,
		UploaderID:  uid,
		Timestamp:   a.deps.Now().UTC(),
	}
	fields, err := toFields(doc)
	if err == nil {
		err = a.deps.Backend.WriteDocument(ctx, models.CollectionDocuments, id, backend.SetFields(fields))
	}
	if err != nil {
		a.deleteBlob(ctx, storagePath)
		return models.FamilyDocument{}, err
	}
	return doc, nil
}

// DeleteDocument removes a document of the active family. Only its uploader
// may delete it; the blob is removed best-effort after the record.
func (a *App) DeleteDocument(ctx context.Context, id string) error {
	uid, err := a.uid()
	if err != nil {
		return err
	}
	doc, ok := find(a.deps.Session.DocumentsView().Current().Records, func(d models.FamilyDocument) bool { return d.ID == id })
	if !ok {
		return ErrNotFound
	}
	if doc.UploaderID != uid {
		return ErrNotUploader
	}
	if err := a.deps.Backend.DeleteDocument(ctx, models.CollectionDocuments, id); err != nil {
		return err
	}
	a.deleteBlob(ctx, doc.StoragePath)
	return nil
}

func (a *App) deleteBlob(ctx context.Context, p string) {
	if p == "" || a.deps.Blobs == nil {
		return
	}
	if err := a.deps.Blobs.DeleteBytes(ctx, p); err != nil {
		log.Printf("[App] blob delete failed path=%s: %v", p, err)
	}
}
