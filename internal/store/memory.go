package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"channel-summarizer-go/internal/model"
)

// MemoryStore is an in-process implementation of SummaryStore and
// DeliveryStore. It backs tests and local development; production uses
// GormStore.
type MemoryStore struct {
	mu        sync.Mutex
	summaries map[uint]model.Summary
	attempts  map[uint]model.DeliveryAttempt
	nextID    uint
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[uint]model.Summary),
		attempts:  make(map[uint]model.DeliveryAttempt),
		nextID:    1,
		now:       time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, draft model.SummaryDraft) (model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := summaryFromDraft(draft)
	summary.ID = s.nextID
	summary.CreatedAt = s.now()
	s.nextID++
	s.summaries[summary.ID] = summary
	return summary, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint) (model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.summaries[id]
	if !ok {
		return model.Summary{}, ErrNotFound
	}
	return summary, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]model.Summary, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.Summary
	for _, summary := range s.summaries {
		if matchesFilter(summary, filter) {
			matched = append(matched, summary)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	limit := clampLimit(filter.Limit)

	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) Update(ctx context.Context, id uint, patch SummaryPatch) (model.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary, ok := s.summaries[id]
	if !ok {
		return model.Summary{}, ErrNotFound
	}
	if patch.Rating != nil {
		summary.Rating = patch.Rating
	}
	if patch.Tags != nil {
		summary.Tags = model.StringList(patch.Tags)
	}
	s.summaries[id] = summary
	return summary, nil
}

func (s *MemoryStore) CreateAttempt(ctx context.Context, attempt model.DeliveryAttempt) (model.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt.ID = s.nextID
	attempt.CreatedAt = s.now()
	attempt.UpdatedAt = attempt.CreatedAt
	s.nextID++
	s.attempts[attempt.ID] = attempt
	return attempt, nil
}

func (s *MemoryStore) GetAttempt(ctx context.Context, id uint) (model.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[id]
	if !ok {
		return model.DeliveryAttempt{}, ErrNotFound
	}
	return attempt, nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id uint, from []string, to string, errMsg string, postedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.attempts[id]
	if !ok {
		return false, nil
	}

	allowed := false
	for _, status := range from {
		if attempt.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	attempt.Status = to
	attempt.ErrorMessage = errMsg
	if postedAt != nil {
		attempt.PostedAt = postedAt
	}
	attempt.UpdatedAt = s.now()
	s.attempts[id] = attempt
	return true, nil
}

func (s *MemoryStore) ListAttempts(ctx context.Context, status string, since time.Time) ([]model.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.DeliveryAttempt
	for _, attempt := range s.attempts {
		if status != "" && attempt.Status != status {
			continue
		}
		if !attempt.CreatedAt.Before(since) {
			matched = append(matched, attempt)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (s *MemoryStore) LatestFailed(ctx context.Context, summaryID uint) (model.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest model.DeliveryAttempt
	found := false
	for _, attempt := range s.attempts {
		if attempt.SummaryID != summaryID || attempt.Status != model.DeliveryStatusFailed {
			continue
		}
		if !found || attempt.CreatedAt.After(latest.CreatedAt) ||
			(attempt.CreatedAt.Equal(latest.CreatedAt) && attempt.ID > latest.ID) {
			latest = attempt
			found = true
		}
	}
	if !found {
		return model.DeliveryAttempt{}, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStore) HasPosted(ctx context.Context, summaryID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, attempt := range s.attempts {
		if attempt.SummaryID == summaryID && attempt.Status == model.DeliveryStatusPosted {
			return true, nil
		}
	}
	return false, nil
}

func matchesFilter(summary model.Summary, filter ListFilter) bool {
	if filter.OwnerID != "" && summary.OwnerID != filter.OwnerID {
		return false
	}
	if filter.OrganizationID != "" && summary.OrganizationID != filter.OrganizationID {
		return false
	}
	if filter.SourceChannelID != "" && summary.SourceChannelID != filter.SourceChannelID {
		return false
	}
	if filter.Search != "" && !strings.Contains(summary.SummaryText, filter.Search) {
		return false
	}
	for _, tag := range filter.Tags {
		found := false
		for _, have := range summary.Tags {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.CreatedAfter != nil && summary.CreatedAt.Before(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && summary.CreatedAt.After(*filter.CreatedBefore) {
		return false
	}
	return true
}
