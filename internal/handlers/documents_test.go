package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"memorylane/internal/backend"
	"memorylane/internal/middleware"
	"memorylane/internal/mocks"
	"memorylane/internal/models"
	"memorylane/internal/repositories"
	"memorylane/internal/telemetry"
)

func setupDocumentRouter(handler *DocumentHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	})
	r.GET("/v1/me", handler.Me)
	r.GET("/v1/documents/:collection/:id", handler.GetDocument)
	r.PATCH("/v1/documents/:collection/:id", handler.PatchDocument)
	r.DELETE("/v1/documents/:collection/:id", handler.DeleteDocument)
	return r
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMe(t *testing.T) {
	router := setupDocumentRouter(NewDocumentHandler(new(mocks.DocumentRepositoryMock), nil))

	rec := serve(router, http.MethodGet, "/v1/me", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"uid":"u1","phone":""}`, rec.Body.String())
}

func TestGetDocument(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "families", "f1").Return(json.RawMessage(`{"id":"f1"}`), nil).Once()
	repo.On("GetDocument", mock.Anything, "families", "f2").Return(nil, repositories.ErrDocumentNotFound).Once()

	rec := serve(router, http.MethodGet, "/v1/documents/families/f1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"f1"}`, rec.Body.String())

	rec = serve(router, http.MethodGet, "/v1/documents/families/f2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodGet, "/v1/documents/secrets/x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	repo.AssertExpectations(t)
}

func TestPatchDocumentMemberMayToggleOwnLike(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	patch := backend.AddToSet("likes", "u1")
	repo.On("GetDocument", mock.Anything, "memories", "m1").
		Return(json.RawMessage(`{"id":"m1","authorId":"u2","familyIds":["f1"],"status":"published"}`), nil).Once()
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil).Once()
	repo.On("WriteDocument", mock.Anything, "memories", "m1", patch).
		Return(repositories.WriteResult{Data: json.RawMessage(`{"id":"m1","likes":["u1"]}`)}, nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"union":{"likes":["u1"]}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
}

func TestPatchDocumentRejectsOtherProfile(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))

	rec := serve(router, http.MethodPatch, "/v1/documents/users/u2", `{"set":{"displayName":"x"}}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertNotCalled(t, "WriteDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatchDocumentRejectsSetOnForeignMemory(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "memories", "m1").Return(json.RawMessage(`{"id":"m1","authorId":"u2","familyIds":["f1"]}`), nil).Once()
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"set":{"status":"published"}}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertNotCalled(t, "WriteDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatchDocumentInvalidBody(t *testing.T) {
	router := setupDocumentRouter(NewDocumentHandler(new(mocks.DocumentRepositoryMock), nil))

	rec := serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"set":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"set":{"status":null}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchDocumentPublishEmitsDomainEvent(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	pub := new(mocks.PublisherMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, telemetry.NewEmitter(pub, "gateway", "test")))
	repo.On("GetDocument", mock.Anything, "memories", "m1").
		Return(json.RawMessage(`{"id":"m1","authorId":"u1","familyIds":["f1"],"status":"draft"}`), nil).Once()
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil).Once()
	repo.On("WriteDocument", mock.Anything, "memories", "m1", mock.Anything).
		Return(repositories.WriteResult{Data: json.RawMessage(`{"id":"m1","authorId":"u1","familyIds":["f1"],"status":"published"}`)}, nil).Once()
	pub.On("Publish", mock.Anything, "domain."+telemetry.EventMemoryPublished, mock.Anything).Return(nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"set":{"status":"published"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)
}

func TestPatchDocumentFamilyCreatedEvent(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	pub := new(mocks.PublisherMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, telemetry.NewEmitter(pub, "gateway", "test")))
	repo.On("GetDocument", mock.Anything, "families", "f1").Return(nil, repositories.ErrDocumentNotFound).Once()
	repo.On("WriteDocument", mock.Anything, "families", "f1", mock.Anything).
		Return(repositories.WriteResult{Data: json.RawMessage(`{"id":"f1"}`), Created: true}, nil).Once()
	pub.On("Publish", mock.Anything, "domain."+telemetry.EventFamilyCreated, mock.Anything).Return(nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/families/f1",
		`{"set":{"familyName":"Smiths","members":["u1"],"admins":["u1"],"createdBy":"u1"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)
}

func TestPatchDocumentWriteFailure(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "questions", "q1").Return(json.RawMessage(`{"id":"q1","askedBy":"u2","familyId":"f1"}`), nil).Once()
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil).Once()
	repo.On("WriteDocument", mock.Anything, "questions", "q1", mock.Anything).Return(nil, errors.New("db down")).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/questions/q1", `{"union":{"upvotes":["u1"]}}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeleteDocument(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, models.CollectionDocuments, "d1").Return(json.RawMessage(`{"id":"d1","uploaderId":"u1"}`), nil).Once()
	repo.On("DeleteDocument", mock.Anything, models.CollectionDocuments, "d1").Return(nil).Once()
	repo.On("GetDocument", mock.Anything, models.CollectionDocuments, "d2").Return(json.RawMessage(`{"id":"d2","uploaderId":"u2"}`), nil).Once()
	repo.On("GetDocument", mock.Anything, models.CollectionDocuments, "d3").Return(nil, repositories.ErrDocumentNotFound).Once()

	require.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/v1/documents/documents/d1", "").Code)
	require.Equal(t, http.StatusForbidden, serve(router, http.MethodDelete, "/v1/documents/documents/d2", "").Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodDelete, "/v1/documents/documents/d3", "").Code)
	require.Equal(t, http.StatusForbidden, serve(router, http.MethodDelete, "/v1/documents/users/u1", "").Code)
	repo.AssertExpectations(t)
}

// foreignFamily is f9 as stored: u1 is not a member.
const foreignFamily = `{"id":"f9","familyName":"Others","members":["u7","u9"],"admins":["u7"],"createdBy":"u7"}`

func TestPatchFamilyRefusesNonMember(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "families", "f9").Return(json.RawMessage(foreignFamily), nil)

	for _, body := range []string{
		`{"remove":{"members":["u7"]},"union":{"admins":["u1"]}}`,
		`{"union":{"members":["u1"]}}`,
		`{"set":{"createdBy":"u1"}}`,
		`{"set":{"familyName":"Mine now"}}`,
	} {
		rec := serve(router, http.MethodPatch, "/v1/documents/families/f9", body)
		require.Equal(t, http.StatusForbidden, rec.Code, body)
	}
	repo.AssertNotCalled(t, "WriteDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatchFamilyAdminRules(t *testing.T) {
	const family = `{"id":"f1","familyName":"Smiths","members":["u1","u2","u3"],"admins":["u1","u2"],"createdBy":"u2"}`
	cases := []struct {
		name string
		body string
		code int
	}{
		{"add member", `{"union":{"members":["u4"]}}`, http.StatusOK},
		{"promote", `{"union":{"members":["u3"],"admins":["u3"]}}`, http.StatusOK},
		{"rename", `{"set":{"familyName":"Smith clan"}}`, http.StatusOK},
		{"change creator", `{"set":{"createdBy":"u1"}}`, http.StatusForbidden},
		{"demote creator", `{"remove":{"admins":["u2"]}}`, http.StatusForbidden},
		{"drop admin membership", `{"remove":{"members":["u1"]}}`, http.StatusForbidden},
		{"admin outside members", `{"union":{"admins":["u8"]}}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(mocks.DocumentRepositoryMock)
			router := setupDocumentRouter(NewDocumentHandler(repo, nil))
			repo.On("GetDocument", mock.Anything, "families", "f1").Return(json.RawMessage(family), nil).Once()
			repo.On("WriteDocument", mock.Anything, "families", "f1", mock.Anything).
				Return(repositories.WriteResult{Data: json.RawMessage(`{"id":"f1"}`)}, nil).Maybe()

			rec := serve(router, http.MethodPatch, "/v1/documents/families/f1", tc.body)

			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestPatchFamilyNonAdminMemberIsRefused(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "families", "f1").
		Return(json.RawMessage(`{"id":"f1","members":["u1","u2"],"admins":["u2"],"createdBy":"u2"}`), nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/families/f1", `{"union":{"members":["u5"]}}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPatchFamilyCreateMustBeLedByCaller(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "families", "f2").Return(nil, repositories.ErrDocumentNotFound)

	rec := serve(router, http.MethodPatch, "/v1/documents/families/f2",
		`{"set":{"familyName":"Fake","members":["u7"],"admins":["u7"],"createdBy":"u7"}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, http.MethodPatch, "/v1/documents/families/f2", `{"set":{"familyName":"Half","createdBy":"u1"}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertNotCalled(t, "WriteDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatchFamilyInvariantConflictFromStore(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "families", "f1").
		Return(json.RawMessage(`{"id":"f1","members":["u1","u2"],"admins":["u1","u2"],"createdBy":"u1"}`), nil).Once()
	repo.On("WriteDocument", mock.Anything, "families", "f1", mock.Anything).
		Return(nil, models.ErrFamilyInvariant).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/families/f1", `{"remove":{"admins":["u2"]}}`)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPatchQuestionUpvotesOnlyOwnUID(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "questions", "q1").
		Return(json.RawMessage(`{"id":"q1","askedBy":"u2","familyId":"f1","upvotes":["u7"]}`), nil)
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil)

	for _, body := range []string{
		`{"remove":{"upvotes":["u7"]}}`,
		`{"union":{"upvotes":["u7"]}}`,
		`{"union":{"upvotes":["u1","u7"]}}`,
		`{"remove":{"upvotes":[]}}`,
	} {
		rec := serve(router, http.MethodPatch, "/v1/documents/questions/q1", body)
		require.Equal(t, http.StatusForbidden, rec.Code, body)
	}
	repo.AssertNotCalled(t, "WriteDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPatchQuestionRefusesNonMember(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "questions", "q1").
		Return(json.RawMessage(`{"id":"q1","askedBy":"u2","familyId":"f9"}`), nil).Once()
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/questions/q1", `{"union":{"upvotes":["u1"]}}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPatchQuestionCreateRequiresOwnFamily(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "questions", mock.Anything).Return(nil, repositories.ErrDocumentNotFound)
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil)
	repo.On("WriteDocument", mock.Anything, "questions", "q2", mock.Anything).
		Return(repositories.WriteResult{Data: json.RawMessage(`{"id":"q2"}`), Created: true}, nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/questions/q2", `{"set":{"askedBy":"u1","familyId":"f1","text":"Where?"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodPatch, "/v1/documents/questions/q3", `{"set":{"askedBy":"u1","familyId":"f9","text":"Where?"}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, http.MethodPatch, "/v1/documents/questions/q4", `{"set":{"askedBy":"u2","familyId":"f1","text":"Where?"}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertExpectations(t)
}

func TestPatchMemoryComments(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "memories", "m1").
		Return(json.RawMessage(`{"id":"m1","authorId":"u2","familyIds":["f1"],"status":"published"}`), nil)
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil)
	repo.On("WriteDocument", mock.Anything, "memories", "m1", mock.Anything).
		Return(repositories.WriteResult{Data: json.RawMessage(`{"id":"m1"}`)}, nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"append":{"comments":[{"id":"c1","userId":"u1","text":"hi"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"append":{"comments":[{"id":"c2","userId":"u2","text":"forged"}]}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"union":{"familyIds":["f1"]}}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertExpectations(t)
}

func TestPatchDraftIsPrivate(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "memories", "m2").
		Return(json.RawMessage(`{"id":"m2","authorId":"u2","familyIds":["f1"],"status":"draft"}`), nil).Once()
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/memories/m2", `{"union":{"likes":["u1"]}}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPatchMemoryOwnerCannotMoveIntoForeignFamily(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "memories", "m1").
		Return(json.RawMessage(`{"id":"m1","authorId":"u1","familyIds":["f1"],"status":"draft"}`), nil).Once()
	repo.On("FamiliesOf", mock.Anything, "u1").Return([]string{"f1"}, nil).Once()

	rec := serve(router, http.MethodPatch, "/v1/documents/memories/m1", `{"union":{"familyIds":["f9"]}}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteFamilyOnlyByCreator(t *testing.T) {
	repo := new(mocks.DocumentRepositoryMock)
	router := setupDocumentRouter(NewDocumentHandler(repo, nil))
	repo.On("GetDocument", mock.Anything, "families", "f9").Return(json.RawMessage(foreignFamily), nil).Once()

	rec := serve(router, http.MethodDelete, "/v1/documents/families/f9", "")

	require.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertNotCalled(t, "DeleteDocument", mock.Anything, mock.Anything, mock.Anything)
}
