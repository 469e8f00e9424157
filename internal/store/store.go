package store

import (
	"context"
	"errors"
	"time"

	"channel-summarizer-go/internal/model"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// List pagination bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListFilter selects summaries for List. Zero values mean "no
// constraint". Results are ordered by created_at descending.
type ListFilter struct {
	OwnerID         string
	OrganizationID  string
	SourceChannelID string
	Search          string   // free-text over summary_text
	Tags            []string // summaries carrying all of these tags
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Limit           int
	Offset          int
}

// SummaryPatch carries the user-facing annotations Update may change.
// The AI-derived content fields are deliberately not representable
// here, which enforces the update contract at the type level.
type SummaryPatch struct {
	Rating *int
	Tags   []string
}

// SummaryStore persists conversation summaries
type SummaryStore interface {
	Create(ctx context.Context, draft model.SummaryDraft) (model.Summary, error)
	Get(ctx context.Context, id uint) (model.Summary, error)
	List(ctx context.Context, filter ListFilter) ([]model.Summary, int64, error)
	Update(ctx context.Context, id uint, patch SummaryPatch) (model.Summary, error)
}

// DeliveryStore persists delivery attempts and their status
// transitions
type DeliveryStore interface {
	CreateAttempt(ctx context.Context, attempt model.DeliveryAttempt) (model.DeliveryAttempt, error)
	GetAttempt(ctx context.Context, id uint) (model.DeliveryAttempt, error)
	// TransitionStatus moves the attempt from one of the given statuses
	// to the target status as a single-row compare-and-set. It reports
	// false when the attempt was not in an expected status, which means
	// another worker already claimed or finished it.
	TransitionStatus(ctx context.Context, id uint, from []string, to string, errMsg string, postedAt *time.Time) (bool, error)
	// ListAttempts returns attempts created at or after since, oldest
	// first. An empty status matches every status.
	ListAttempts(ctx context.Context, status string, since time.Time) ([]model.DeliveryAttempt, error)
	// LatestFailed returns the most recent failed attempt for the
	// summary, or ErrNotFound when there is none.
	LatestFailed(ctx context.Context, summaryID uint) (model.DeliveryAttempt, error)
	// HasPosted reports whether the summary already has an
	// authoritative posted attempt.
	HasPosted(ctx context.Context, summaryID uint) (bool, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func summaryFromDraft(draft model.SummaryDraft) model.Summary {
	return model.Summary{
		OwnerID:         draft.OwnerID,
		OrganizationID:  draft.OrganizationID,
		Title:           draft.Title,
		SummaryText:     draft.SummaryText,
		Skills:          model.StringList(draft.Skills),
		RedFlags:        model.StringList(draft.RedFlags),
		ActionItems:     model.StringList(draft.ActionItems),
		Sentiment:       draft.Sentiment,
		ConfidenceScore: draft.ConfidenceScore,
		SourceChannelID: draft.SourceChannelID,
		SourceMessageTS: draft.SourceMessageTS,
		Model:           draft.Model,
	}
}
