package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"memorylane/internal/backend"
	"memorylane/internal/db"
	"memorylane/internal/models"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnknownKind      = errors.New("unknown subscription kind")
)

// WriteResult is the stored document after a write.
type WriteResult struct {
	Data    json.RawMessage
	Created bool
}

// DocumentRepository abstracts document persistence.
type DocumentRepository interface {
	GetDocument(ctx context.Context, collection, id string) (json.RawMessage, error)
	WriteDocument(ctx context.Context, collection, id string, patch backend.Patch) (WriteResult, error)
	DeleteDocument(ctx context.Context, collection, id string) error
	Query(ctx context.Context, kind models.Kind, filter string) ([]json.RawMessage, error)
	FamiliesOf(ctx context.Context, uid string) ([]string, error)
}

// DocumentRepo is a sqlx implementation of DocumentRepository.
type DocumentRepo struct {
	db *sqlx.DB
}

// NewDocumentRepo constructs a DocumentRepo.
func NewDocumentRepo(db *sqlx.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

type documentRow struct {
	Seq  int64          `db:"seq"`
	Data types.JSONText `db:"data"`
}

// kindFilters holds the WHERE clause selecting a kind's view; $2 is the filter
// value. Non-profile views use @> containment so the GIN index on data serves them.
var kindFilters = map[models.Kind]string{
	models.KindProfile:   `id = $2`,
	models.KindFamilies:  `data @> jsonb_build_object('members', jsonb_build_array($2::text))`,
	models.KindMemories:  `data @> jsonb_build_object('status', '` + models.StatusPublished + `', 'familyIds', jsonb_build_array($2::text))`,
	models.KindQuestions: `data @> jsonb_build_object('familyId', $2::text)`,
	models.KindDocuments: `data @> jsonb_build_object('familyId', $2::text)`,
	models.KindDrafts:    `data @> jsonb_build_object('status', '` + models.StatusDraft + `', 'authorId', $2::text)`,
}

// GetDocument fetches a single document.
func (r *DocumentRepo) GetDocument(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var data types.JSONText
	err := r.db.GetContext(ctx, &data, `SELECT data FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// WriteDocument applies patch to the stored document under a row lock,
// creating it when absent, and notifies listeners on commit.
func (r *DocumentRepo) WriteDocument(ctx context.Context, collection, id string, patch backend.Patch) (WriteResult, error) {
	ctx, span := otel.Tracer("memorylane/repositories").Start(ctx, "documents.write")
	defer span.End()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return WriteResult{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	doc := map[string]any{}
	var current types.JSONText
	created := false
	err = tx.GetContext(ctx, &current, `SELECT data FROM documents WHERE collection=$1 AND id=$2 FOR UPDATE`, collection, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return WriteResult{}, err
	default:
		if err = current.Unmarshal(&doc); err != nil {
			return WriteResult{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
	}

	if err = patch.Clean().Apply(doc); err != nil {
		return WriteResult{}, err
	}
	doc["id"] = id

	var data []byte
	if data, err = json.Marshal(doc); err != nil {
		return WriteResult{}, err
	}
	if collection == models.CollectionFamilies {
		var family models.Family
		if err = json.Unmarshal(data, &family); err != nil {
			return WriteResult{}, err
		}
		if err = family.Validate(); err != nil {
			return WriteResult{}, err
		}
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
        ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, collection, id, types.JSONText(data)); err != nil {
		return WriteResult{}, err
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, db.ChangesChannel, collection); err != nil {
		return WriteResult{}, err
	}

	if err = tx.Commit(); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Data: data, Created: created}, nil
}

// DeleteDocument removes a document and notifies listeners.
func (r *DocumentRepo) DeleteDocument(ctx context.Context, collection, id string) error {
	ctx, span := otel.Tracer("memorylane/repositories").Start(ctx, "documents.delete")
	defer span.End()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection=$1 AND id=$2`, collection, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = ErrDocumentNotFound
		return err
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, db.ChangesChannel, collection); err != nil {
		return err
	}
	return tx.Commit()
}

// Query returns the ordered records of a kind's view.
func (r *DocumentRepo) Query(ctx context.Context, kind models.Kind, filter string) ([]json.RawMessage, error) {
	where, ok := kindFilters[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	var rows []documentRow
	query := `SELECT seq, data FROM documents WHERE collection=$1 AND ` + where + ` ORDER BY seq, id`
	if err := r.db.SelectContext(ctx, &rows, query, kind.Collection(), filter); err != nil {
		return nil, err
	}
	if backend.NewestFirst(kind) {
		sortNewestFirst(kind, rows)
	}

	records := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		records = append(records, json.RawMessage(row.Data))
	}
	return records, nil
}

// FamiliesOf lists the ids of the families uid belongs to.
func (r *DocumentRepo) FamiliesOf(ctx context.Context, uid string) ([]string, error) {
	var ids pq.StringArray
	err := r.db.QueryRowxContext(ctx, `SELECT COALESCE(array_agg(id ORDER BY seq), '{}') FROM documents
        WHERE collection=$1 AND ` + kindFilters[models.KindFamilies], models.CollectionFamilies, uid).Scan(&ids)
	if err != nil {
		return nil, err
	}
	return []string(ids), nil
}

// sortNewestFirst orders rows by creation time descending; rows arrive in seq
// order so ties keep arrival order.
func sortNewestFirst(kind models.Kind, rows []documentRow) {
	docs := make([]map[string]any, len(rows))
	for i, row := range rows {
		doc := map[string]any{}
		_ = row.Data.Unmarshal(&doc)
		docs[i] = doc
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return backend.Timestamp(kind, docs[idx[a]]).After(backend.Timestamp(kind, docs[idx[b]]))
	})
	sorted := make([]documentRow, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}
