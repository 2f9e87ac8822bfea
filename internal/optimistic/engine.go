// Package optimistic applies local mutations ahead of server confirmation.
//
// Pending values live in an explicit map keyed by record and field. An
// entry is inserted on mutate and removed when the write that installed it
// settles, successfully or not. A failed write therefore falls back to the
// last server-confirmed value and never touches it.
//
// Two rapid toggles on the same record compute the second flip from the
// first pending value. The backend does not order the two writes, so the
// final durable state may differ from the last local intent until the next
// snapshot reconciles it.
package optimistic

import (
	"context"
	"log"
	"slices"
	"sync"

	"memorylane/internal/models"
	"memorylane/internal/observability"
)

// Key identifies one optimistic field of one record.
type Key struct {
	Collection string
	RecordID   string
	Field      string
}

// ToggleWrite persists a toggle; add reports whether uid joins the set.
type ToggleWrite func(ctx context.Context, add bool) error

// CommentWrite persists a comment carrying its client-generated id.
type CommentWrite func(ctx context.Context, c models.Comment) error

type pendingSet struct {
	gen     uint64
	members []string
}

type pendingComment struct {
	comment models.Comment
}

// Engine holds the pending optimistic state of one user session.
type Engine struct {
	notify func(recordID string)

	mu       sync.Mutex
	gen      uint64
	sets     map[Key]pendingSet
	comments map[string][]*pendingComment
}

// NewEngine builds an engine. notify, if not nil, is called after any pending
// value of a record changes outside a caller's own request (settle or rollback).
func NewEngine(notify func(recordID string)) *Engine {
	return &Engine{
		notify:   notify,
		sets:     make(map[Key]pendingSet),
		comments: make(map[string][]*pendingComment),
	}
}

// Toggle flips uid's membership in the set at key and returns the new local
// value at once. The flip starts from the pending value if one exists,
// otherwise from confirmed. The durable write runs in the background.
func (e *Engine) Toggle(ctx context.Context, key Key, uid string, confirmed []string, write ToggleWrite) ([]string, *Confirmation) {
	e.mu.Lock()
	base := confirmed
	if p, ok := e.sets[key]; ok {
		base = p.members
	}
	next, add := flip(base, uid)
	e.gen++
	gen := e.gen
	e.sets[key] = pendingSet{gen: gen, members: next}
	e.mu.Unlock()

	conf := newConfirmation()
	go func() {
		err := write(context.WithoutCancel(ctx), add)
		e.settleToggle(key, gen, err)
		conf.resolve(err)
	}()
	return slices.Clone(next), conf
}

func (e *Engine) settleToggle(key Key, gen uint64, err error) {
	e.mu.Lock()
	p, ok := e.sets[key]
	current := ok && p.gen == gen
	if current {
		delete(e.sets, key)
	}
	e.mu.Unlock()

	if err != nil {
		observability.IncOptimisticRollback(key.Field)
		log.Printf("[Optimistic] toggle rolled back collection=%s record=%s field=%s: %v", key.Collection, key.RecordID, key.Field, err)
	}
	if current && e.notify != nil {
		e.notify(key.RecordID)
	}
}

// Members returns the visible set at key: the pending value if any,
// otherwise confirmed without duplicates.
func (e *Engine) Members(key Key, confirmed []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.sets[key]; ok {
		return slices.Clone(p.members)
	}
	return dedupe(confirmed)
}

// Pending reports whether key has an unsettled optimistic value.
func (e *Engine) Pending(key Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sets[key]
	return ok
}

// AddComment shows c at the head of recordID's comments immediately and
// writes it in the background. The returned slice is the pending list.
func (e *Engine) AddComment(ctx context.Context, recordID string, c models.Comment, write CommentWrite) ([]models.Comment, *Confirmation) {
	pc := &pendingComment{comment: c}
	e.mu.Lock()
	e.comments[recordID] = append([]*pendingComment{pc}, e.comments[recordID]...)
	list := e.pendingCommentsLocked(recordID)
	e.mu.Unlock()

	conf := newConfirmation()
	go func() {
		err := write(context.WithoutCancel(ctx), c)
		e.settleComment(recordID, pc, err)
		conf.resolve(err)
	}()
	return list, conf
}

func (e *Engine) settleComment(recordID string, pc *pendingComment, err error) {
	if err == nil {
		// kept until a confirmed snapshot carries the same id
		return
	}
	e.mu.Lock()
	e.removeCommentLocked(recordID, pc)
	e.mu.Unlock()

	observability.IncOptimisticRollback("comments")
	log.Printf("[Optimistic] comment rolled back record=%s comment=%s: %v", recordID, pc.comment.ID, err)
	if e.notify != nil {
		e.notify(recordID)
	}
}

// Comments merges pending comments, newest first, ahead of confirmed.
// A pending comment whose id is already confirmed is dropped for good.
func (e *Engine) Comments(recordID string, confirmed []models.Comment) []models.Comment {
	seen := make(map[string]struct{}, len(confirmed))
	for _, c := range confirmed {
		seen[c.ID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Comment
	for _, pc := range slices.Clone(e.comments[recordID]) {
		if _, ok := seen[pc.comment.ID]; ok {
			e.removeCommentLocked(recordID, pc)
			continue
		}
		out = append(out, pc.comment)
	}
	return append(out, confirmed...)
}

func (e *Engine) pendingCommentsLocked(recordID string) []models.Comment {
	out := make([]models.Comment, 0, len(e.comments[recordID]))
	for _, pc := range e.comments[recordID] {
		out = append(out, pc.comment)
	}
	return out
}

func (e *Engine) removeCommentLocked(recordID string, pc *pendingComment) {
	list := e.comments[recordID]
	for i, item := range list {
		if item == pc {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.comments, recordID)
		return
	}
	e.comments[recordID] = list
}

// Reset drops every pending value, e.g. on logout.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sets = make(map[Key]pendingSet)
	e.comments = make(map[string][]*pendingComment)
}

func flip(base []string, uid string) ([]string, bool) {
	set := dedupe(base)
	if i := slices.Index(set, uid); i >= 0 {
		return slices.Delete(set, i, i+1), false
	}
	return append(set, uid), true
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
