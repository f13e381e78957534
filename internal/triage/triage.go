// Package triage holds results that need a human decision: ABSTAIN outcomes
// and results whose scoring failed.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/grant-matcher/internal/scoring"
)

var (
	ErrNotEligible     = errors.New("result is not eligible for triage")
	ErrNotFound        = errors.New("triage item not found")
	ErrAlreadyResolved = errors.New("triage item already resolved")
	ErrAlreadyClaimed  = errors.New("triage item claimed by another reviewer")
	ErrInvalidDecision = errors.New("invalid expert decision")
	ErrInvalidFilter   = errors.New("invalid triage filter")
)

// Priority orders the review backlog.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Status is the review state of an item. RESOLVED is terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusInReview Status = "IN_REVIEW"
	StatusResolved Status = "RESOLVED"
)

// ExpertDecision is the human verdict that closes an item.
type ExpertDecision struct {
	Decision      scoring.Decision `json:"decision"`
	Reviewer      string           `json:"reviewer"`
	Justification string           `json:"justification"`
}

// Validate checks that the decision is final and attributed.
func (d ExpertDecision) Validate() error {
	var problems []string
	if d.Decision != scoring.DecisionPass && d.Decision != scoring.DecisionFail {
		problems = append(problems, fmt.Sprintf("decision must be PASS or FAIL, got %q", d.Decision))
	}
	if strings.TrimSpace(d.Reviewer) == "" {
		problems = append(problems, "reviewer is required")
	}
	if strings.TrimSpace(d.Justification) == "" {
		problems = append(problems, "justification is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDecision, strings.Join(problems, "; "))
	}
	return nil
}

// Item is one entry of the review backlog.
type Item struct {
	ID            string                   `json:"id"`
	Result        *scoring.CompositeResult `json:"result"`
	Priority      Priority                 `json:"priority"`
	Status        Status                   `json:"status"`
	EnqueuedAt    time.Time                `json:"enqueued_at"`
	ReviewerClaim string                   `json:"reviewer_claim,omitempty"`
	ClaimedAt     time.Time                `json:"claimed_at,omitzero"`
	Expert        *ExpertDecision          `json:"expert,omitempty"`
	ResolvedAt    time.Time                `json:"resolved_at,omitzero"`

	// seq breaks ties between items enqueued at the same instant.
	seq int64
}

func (it *Item) clone() *Item {
	out := *it
	if it.Expert != nil {
		expert := *it.Expert
		out.Expert = &expert
	}
	return &out
}

// Filter narrows ListPending.
type Filter struct {
	Priority Priority
	// Status is PENDING or IN_REVIEW; empty means both.
	Status   Status
	SeekerID string
	Limit    int
}

func (f Filter) validate() error {
	switch f.Status {
	case "", StatusPending, StatusInReview:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFilter, f.Status)
	}
}

func (f Filter) matches(it *Item) bool {
	if it.Status == StatusResolved {
		return false
	}
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if f.Priority != "" && it.Priority != f.Priority {
		return false
	}
	if f.SeekerID != "" && (it.Result == nil || it.Result.SeekerID != f.SeekerID) {
		return false
	}
	return true
}

// Stats counts items by status, and unresolved items by priority.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByPriority map[Priority]int `json:"by_priority"`
}

func newStats() Stats {
	return Stats{
		ByStatus: map[Status]int{
			StatusPending:  0,
			StatusInReview: 0,
			StatusResolved: 0,
		},
		ByPriority: map[Priority]int{
			PriorityHigh:   0,
			PriorityMedium: 0,
			PriorityLow:    0,
		},
	}
}

func (s *Stats) add(status Status, priority Priority, n int) {
	s.Total += n
	s.ByStatus[status] += n
	if status != StatusResolved {
		s.ByPriority[priority] += n
	}
}

// Store persists triage items. Implementations serialise writes: Insert never
// loses an item and Resolve succeeds at most once per item, and only for the
// claiming reviewer once the item is IN_REVIEW.
type Store interface {
	Insert(ctx context.Context, it *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	// List returns unresolved items matching f in insertion order.
	List(ctx context.Context, f Filter) ([]*Item, error)
	Claim(ctx context.Context, id, reviewer string, at time.Time) (*Item, error)
	Resolve(ctx context.Context, id string, d ExpertDecision, at time.Time) (*Item, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
