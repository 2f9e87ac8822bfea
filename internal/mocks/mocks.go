package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"memorylane/internal/auth"
	"memorylane/internal/backend"
	"memorylane/internal/models"
	"memorylane/internal/repositories"
)

var (
	_ repositories.DocumentRepository = (*DocumentRepositoryMock)(nil)
	_ auth.Validator                  = (*ValidatorMock)(nil)
)

type DocumentRepositoryMock struct {
	mock.Mock
}

func (m *DocumentRepositoryMock) GetDocument(ctx context.Context, collection, id string) (json.RawMessage, error) {
	args := m.Called(ctx, collection, id)
	var doc json.RawMessage
	if val := args.Get(0); val != nil {
		doc = val.(json.RawMessage)
	}
	return doc, args.Error(1)
}

func (m *DocumentRepositoryMock) WriteDocument(ctx context.Context, collection, id string, patch backend.Patch) (repositories.WriteResult, error) {
	args := m.Called(ctx, collection, id, patch)
	var res repositories.WriteResult
	if val := args.Get(0); val != nil {
		res = val.(repositories.WriteResult)
	}
	return res, args.Error(1)
}

func (m *DocumentRepositoryMock) DeleteDocument(ctx context.Context, collection, id string) error {
	args := m.Called(ctx, collection, id)
	return args.Error(0)
}

func (m *DocumentRepositoryMock) Query(ctx context.Context, kind models.Kind, filter string) ([]json.RawMessage, error) {
	args := m.Called(ctx, kind, filter)
	var records []json.RawMessage
	if val := args.Get(0); val != nil {
		records = val.([]json.RawMessage)
	}
	return records, args.Error(1)
}

func (m *DocumentRepositoryMock) FamiliesOf(ctx context.Context, uid string) ([]string, error) {
	args := m.Called(ctx, uid)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type ValidatorMock struct {
	mock.Mock
}

func (m *ValidatorMock) Validate(ctx context.Context, token string) (auth.Identity, error) {
	args := m.Called(ctx, token)
	var id auth.Identity
	if val := args.Get(0); val != nil {
		id = val.(auth.Identity)
	}
	return id, args.Error(1)
}
