package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	"memorylane/internal/backend"
	"memorylane/internal/models"
	"memorylane/internal/repositories"
)

var errInvalidPatch = errors.New("patch cannot be applied")

// accessError is a refused write; its message is returned to the caller.
type accessError struct{ msg string }

func (e *accessError) Error() string { return e.msg }

func deny(msg string) error { return &accessError{msg: msg} }

// ownerFields names the field holding the owning uid of each collection.
var ownerFields = map[string]string{
	models.CollectionUsers:     "id",
	models.CollectionFamilies:  "createdBy",
	models.CollectionQuestions: "askedBy",
	models.CollectionMemories:  "authorId",
	models.CollectionDocuments: "uploaderId",
}

// toggleFields are the reaction sets any family member may join or leave,
// one uid at a time and only their own.
var toggleFields = map[string]string{
	models.CollectionQuestions: "upvotes",
	models.CollectionMemories:  "likes",
}

// commentFields are the lists any family member may append to as themselves.
var commentFields = map[string]string{
	models.CollectionMemories: "comments",
}

// writeAccess decides whether uid may apply patch to collection/id.
type writeAccess struct {
	repo repositories.DocumentRepository
	uid  string
}

func (a writeAccess) check(ctx context.Context, collection, id string, patch backend.Patch) error {
	if collection == models.CollectionUsers {
		if id != a.uid {
			return deny("only the owner may write a profile")
		}
		return nil
	}

	before, err := a.load(ctx, collection, id)
	if err != nil {
		return err
	}
	after := clone(before)
	if after == nil {
		after = map[string]any{}
	}
	if err := patch.Apply(after); err != nil {
		return errInvalidPatch
	}

	if collection == models.CollectionFamilies {
		return a.checkFamily(before, after)
	}
	return a.checkFamilyRecord(ctx, collection, before, after, patch)
}

// checkFamily allows admins to manage an existing family and anyone to
// create a family they lead. The result must keep createdBy ∈ admins ⊆ members.
func (a writeAccess) checkFamily(before, after map[string]any) error {
	if before == nil {
		if str(after["createdBy"]) != a.uid {
			return deny("a new family must be created by the caller")
		}
	} else {
		if !slices.Contains(strs(before["admins"]), a.uid) {
			return deny("only a family admin may change a family")
		}
		if str(after["createdBy"]) != str(before["createdBy"]) {
			return deny("the family creator cannot change")
		}
	}
	if err := validFamily(after); err != nil {
		return deny("a family must keep its creator as admin and its admins as members")
	}
	return nil
}

// checkFamilyRecord covers questions, memories and documents. Owners may
// change anything inside their own families; other members may only toggle
// their own reaction and append their own comments. Drafts stay private.
func (a writeAccess) checkFamilyRecord(ctx context.Context, collection string, before, after map[string]any, patch backend.Patch) error {
	field := ownerFields[collection]
	mine, err := a.repo.FamiliesOf(ctx, a.uid)
	if err != nil {
		return err
	}

	if before == nil {
		if str(after[field]) != a.uid {
			return deny("new records must be owned by the caller")
		}
		return inFamilies(familiesOf(collection, after), mine)
	}

	isOwner := str(before[field]) == a.uid
	if collection == models.CollectionMemories && str(before["status"]) == models.StatusDraft && !isOwner {
		return deny("drafts are private to their author")
	}
	if !isOwner && !overlaps(familiesOf(collection, before), mine) {
		return deny("not a member of this family")
	}
	if str(after[field]) != str(before[field]) {
		return deny("the owner of a record cannot change")
	}

	toggle := toggleFields[collection]
	for f, values := range patch.Union {
		if err := a.checkSetOp(f, values, toggle, isOwner); err != nil {
			return err
		}
	}
	for f, values := range patch.Remove {
		if err := a.checkSetOp(f, values, toggle, isOwner); err != nil {
			return err
		}
	}
	for f, elems := range patch.Append {
		if f == commentFields[collection] {
			for _, e := range elems {
				if comment, _ := e.(map[string]any); str(comment["userId"]) != a.uid {
					return deny("comments must be posted as the caller")
				}
			}
			continue
		}
		if !isOwner {
			return deny("only the owner may change this record")
		}
	}
	if len(patch.Set) > 0 && !isOwner {
		return deny("only the owner may change this record")
	}
	if isOwner && !slices.Equal(familiesOf(collection, before), familiesOf(collection, after)) {
		return inFamilies(familiesOf(collection, after), mine)
	}
	return nil
}

func (a writeAccess) checkSetOp(field string, values []string, toggle string, isOwner bool) error {
	if field == toggle {
		if len(values) != 1 || values[0] != a.uid {
			return deny("only your own reaction may be toggled")
		}
		return nil
	}
	if !isOwner {
		return deny("only the owner may change this record")
	}
	return nil
}

// load returns the stored document or nil when it does not exist.
func (a writeAccess) load(ctx context.Context, collection, id string) (map[string]any, error) {
	raw, err := a.repo.GetDocument(ctx, collection, id)
	if errors.Is(err, repositories.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func familiesOf(collection string, doc map[string]any) []string {
	if collection == models.CollectionMemories {
		return strs(doc["familyIds"])
	}
	if id := str(doc["familyId"]); id != "" {
		return []string{id}
	}
	return nil
}

func inFamilies(ids, mine []string) error {
	if len(ids) == 0 {
		return deny("a record must belong to a family")
	}
	for _, id := range ids {
		if !slices.Contains(mine, id) {
			return deny("not a member of this family")
		}
	}
	return nil
}

func overlaps(a, b []string) bool {
	return slices.ContainsFunc(a, func(id string) bool { return slices.Contains(b, id) })
}

func validFamily(doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var f models.Family
	if err := json.Unmarshal(raw, &f); err != nil {
		return err
	}
	return f.Validate()
}

func clone(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	raw, _ := json.Marshal(doc)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
