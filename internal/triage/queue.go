package triage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/logger"
	"github.com/spigell/grant-matcher/internal/scoring"
)

// PriorityFor ranks a result within the review backlog using the thresholds
// the result was scored against. Results at or above the pass threshold were
// forced to ABSTAIN by a safeguard and go first, as do scores in the top third
// of the abstain band. Scoring failures, results without any weighted data and
// scores nearer the pass threshold than the fail threshold are medium.
func PriorityFor(r *scoring.CompositeResult) Priority {
	if r.Failed() || r.InsufficientData {
		return PriorityMedium
	}

	t := r.Thresholds
	band := t.Pass - t.Fail
	switch {
	case r.Score >= t.Pass:
		return PriorityHigh
	case r.Score >= t.Pass-band/3:
		return PriorityHigh
	case t.Pass-r.Score < r.Score-t.Fail:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Queue is the review backlog.
type Queue struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// Option customises a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// New creates a queue over store.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

// Enqueue adds an ABSTAIN or scoring_failed result to the backlog.
func (q *Queue) Enqueue(ctx context.Context, r *scoring.CompositeResult) (*Item, error) {
	if r == nil || !r.NeedsReview() {
		decision := "<nil>"
		if r != nil {
			decision = string(r.Decision)
		}
		return nil, fmt.Errorf("%w: decision %s", ErrNotEligible, decision)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate item id: %w", err)
	}

	it := &Item{
		ID:         id.String(),
		Result:     r,
		Priority:   PriorityFor(r),
		Status:     StatusPending,
		EnqueuedAt: q.now(),
	}
	if err := q.store.Insert(ctx, it); err != nil {
		return nil, fmt.Errorf("store triage item: %w", err)
	}

	logger.WithPair(q.logger, r.SeekerID, r.CandidateEIN).Info("triage item enqueued",
		zap.String("item_id", it.ID),
		zap.String("priority", string(it.Priority)),
		zap.String("status", string(r.Status)),
	)
	return it, nil
}

// ListPending returns unresolved items ordered by priority, newest first within a priority.
func (q *Queue) ListPending(ctx context.Context, f Filter) ([]*Item, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	items, err := q.store.List(ctx, Filter{Priority: f.Priority, Status: f.Status, SeekerID: f.SeekerID})
	if err != nil {
		return nil, fmt.Errorf("list triage items: %w", err)
	}

	slices.SortStableFunc(items, func(a, b *Item) int {
		return cmp.Or(
			cmp.Compare(a.Priority.rank(), b.Priority.rank()),
			b.EnqueuedAt.Compare(a.EnqueuedAt),
			cmp.Compare(b.seq, a.seq),
		)
	})

	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return items, nil
}

// Get returns one item by id.
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	return q.store.Get(ctx, id)
}

// Claim marks a PENDING item as IN_REVIEW by reviewer. Claiming an item the
// same reviewer already holds is a no-op.
func (q *Queue) Claim(ctx context.Context, id, reviewer string) (*Item, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidDecision)
	}

	it, err := q.store.Claim(ctx, id, reviewer, q.now())
	if err != nil {
		return nil, err
	}
	q.logger.Info("triage item claimed", zap.String("item_id", id), zap.String("reviewer", reviewer))
	return it, nil
}

// Resolve records the expert decision. The first resolution wins; later
// attempts return ErrAlreadyResolved and leave the stored decision unchanged.
// An IN_REVIEW item can only be resolved by the reviewer holding the claim;
// anyone else gets ErrAlreadyClaimed.
func (q *Queue) Resolve(ctx context.Context, id string, d ExpertDecision) (*Item, error) {
	d.Reviewer = strings.TrimSpace(d.Reviewer)
	d.Justification = strings.TrimSpace(d.Justification)
	if err := d.Validate(); err != nil {
		return nil, err
	}

	it, err := q.store.Resolve(ctx, id, d, q.now())
	if err != nil {
		return nil, err
	}
	q.logger.Info("triage item resolved",
		zap.String("item_id", id),
		zap.String("decision", string(d.Decision)),
		zap.String("reviewer", d.Reviewer),
	)
	return it, nil
}

// Stats counts items by status and unresolved items by priority.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.store.Stats(ctx)
}
