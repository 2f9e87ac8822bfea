package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"memorylane/internal/backend"
	"memorylane/internal/middleware"
	"memorylane/internal/models"
	"memorylane/internal/repositories"
	"memorylane/internal/telemetry"
)

// DocumentHandler serves the document store over HTTP.
type DocumentHandler struct {
	repo   repositories.DocumentRepository
	events *telemetry.Emitter
}

// NewDocumentHandler constructs a DocumentHandler.
func NewDocumentHandler(repo repositories.DocumentRepository, events *telemetry.Emitter) *DocumentHandler {
	return &DocumentHandler{repo: repo, events: events}
}

// Me handles GET /v1/me.
func (h *DocumentHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"uid": c.GetString(middleware.UserIDKey), "phone": c.GetString(middleware.PhoneKey)})
}

// GetDocument handles GET /v1/documents/:collection/:id.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	collection, id, ok := parseDocumentPath(c)
	if !ok {
		return
	}

	doc, err := h.repo.GetDocument(c.Request.Context(), collection, id)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load document"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// PatchDocument handles PATCH /v1/documents/:collection/:id. The body is a
// backend.Patch; the document is created when absent.
func (h *DocumentHandler) PatchDocument(c *gin.Context) {
	collection, id, ok := parseDocumentPath(c)
	if !ok {
		return
	}

	var patch backend.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch = patch.Clean()
	if patch.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty patch"})
		return
	}

	if !h.mayWrite(c, collection, id, patch) {
		return
	}

	res, err := h.repo.WriteDocument(c.Request.Context(), collection, id, patch)
	if errors.Is(err, models.ErrFamilyInvariant) {
		h.emitAudit(c, "ERROR", "family invariant violated")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not write document"})
		return
	}

	h.emitDomainEvents(c, collection, id, patch, res)
	c.Data(http.StatusOK, "application/json", res.Data)
}

// DeleteDocument handles DELETE /v1/documents/:collection/:id.
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	collection, id, ok := parseDocumentPath(c)
	if !ok {
		return
	}
	if collection == models.CollectionUsers {
		h.emitAudit(c, "ERROR", "not allowed to delete profile")
		c.JSON(http.StatusForbidden, gin.H{"error": "profiles cannot be deleted"})
		return
	}

	if field, owned := ownerFields[collection]; owned {
		doc, err := h.repo.GetDocument(c.Request.Context(), collection, id)
		if err != nil {
			h.respondRepoError(c, err)
			return
		}
		if owner(doc, field) != c.GetString(middleware.UserIDKey) {
			h.emitAudit(c, "ERROR", "not allowed to delete")
			c.JSON(http.StatusForbidden, gin.H{"error": "only the owner may delete"})
			return
		}
	}

	if err := h.repo.DeleteDocument(c.Request.Context(), collection, id); err != nil {
		h.respondRepoError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Document deleted")
	c.Status(http.StatusNoContent)
}

// mayWrite runs the write policy and answers the request when it refuses.
func (h *DocumentHandler) mayWrite(c *gin.Context, collection, id string, patch backend.Patch) bool {
	access := writeAccess{repo: h.repo, uid: c.GetString(middleware.UserIDKey)}
	err := access.check(c.Request.Context(), collection, id, patch)
	if err == nil {
		return true
	}

	var denied *accessError
	switch {
	case errors.As(err, &denied):
		h.emitAudit(c, "ERROR", "write refused: "+denied.msg)
		c.JSON(http.StatusForbidden, gin.H{"error": denied.msg})
	case errors.Is(err, errInvalidPatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.respondRepoError(c, err)
	}
	return false
}

func (h *DocumentHandler) emitDomainEvents(c *gin.Context, collection, id string, patch backend.Patch, res repositories.WriteResult) {
	ctx := c.Request.Context()
	requestID := requestIDFromContext(c)
	userID := userIDFromContext(c)

	switch {
	case collection == models.CollectionMemories && patch.Set["status"] == models.StatusPublished:
		var m models.Memory
		_ = json.Unmarshal(res.Data, &m)
		h.events.Domain(ctx, telemetry.EventMemoryPublished, requestID, userID, gin.H{
			"memoryId":  id,
			"authorId":  m.AuthorID,
			"familyIds": m.FamilyIDs,
		})
	case collection == models.CollectionQuestions && res.Created:
		var q models.Question
		_ = json.Unmarshal(res.Data, &q)
		h.events.Domain(ctx, telemetry.EventQuestionCreated, requestID, userID, gin.H{
			"questionId": id,
			"familyId":   q.FamilyID,
			"askedBy":    q.AskedBy,
		})
	case collection == models.CollectionFamilies && res.Created:
		h.events.Domain(ctx, telemetry.EventFamilyCreated, requestID, userID, gin.H{"familyId": id})
	}
}

func (h *DocumentHandler) respondRepoError(c *gin.Context, err error) {
	if errors.Is(err, repositories.ErrDocumentNotFound) {
		h.emitAudit(c, "ERROR", "document not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	h.emitAudit(c, "ERROR", "internal error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "document operation failed"})
}

func (h *DocumentHandler) emitAudit(c *gin.Context, level, text string) {
	if h.events == nil {
		return
	}
	h.events.Audit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}

func parseDocumentPath(c *gin.Context) (string, string, bool) {
	collection := c.Param("collection")
	if !models.ValidCollection(collection) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collection"})
		return "", "", false
	}
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return "", "", false
	}
	return collection, id, true
}

func owner(doc json.RawMessage, field string) string {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return ""
	}
	s, _ := fields[field].(string)
	return s
}
