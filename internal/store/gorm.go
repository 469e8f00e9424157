package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"channel-summarizer-go/internal/model"
)

// GormStore implements SummaryStore and DeliveryStore on a relational
// database through gorm
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store on the given database handle
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create persists a new summary. The store is the only writer of id
// and created_at.
func (s *GormStore) Create(ctx context.Context, draft model.SummaryDraft) (model.Summary, error) {
	summary := summaryFromDraft(draft)
	if err := s.db.WithContext(ctx).Create(&summary).Error; err != nil {
		return model.Summary{}, fmt.Errorf("failed to create summary: %w", err)
	}
	return summary, nil
}

// Get returns a summary by id
func (s *GormStore) Get(ctx context.Context, id uint) (model.Summary, error) {
	var summary model.Summary
	if err := s.db.WithContext(ctx).First(&summary, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Summary{}, ErrNotFound
		}
		return model.Summary{}, fmt.Errorf("failed to get summary: %w", err)
	}
	return summary, nil
}

// List returns the summaries matching the filter plus the total match
// count before pagination
func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]model.Summary, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Summary{})

	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.OrganizationID != "" {
		query = query.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.SourceChannelID != "" {
		query = query.Where("source_channel_id = ?", filter.SourceChannelID)
	}
	if filter.Search != "" {
		query = query.Where("summary_text LIKE ?", "%"+filter.Search+"%")
	}
	for _, tag := range filter.Tags {
		// Tags are stored as a JSON array of strings, so each tag
		// appears quoted in the column.
		query = query.Where("tags LIKE ?", fmt.Sprintf(`%%"%s"%%`, tag))
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *filter.CreatedBefore)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count summaries: %w", err)
	}

	var summaries []model.Summary
	err := query.
		Order("created_at desc").
		Limit(clampLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&summaries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list summaries: %w", err)
	}

	return summaries, total, nil
}

// Update applies user-facing annotations. The AI-derived content is
// never touched.
func (s *GormStore) Update(ctx context.Context, id uint, patch SummaryPatch) (model.Summary, error) {
	summary, err := s.Get(ctx, id)
	if err != nil {
		return model.Summary{}, err
	}

	updates := map[string]interface{}{}
	if patch.Rating != nil {
		updates["rating"] = *patch.Rating
	}
	if patch.Tags != nil {
		updates["tags"] = model.StringList(patch.Tags)
	}
	if len(updates) == 0 {
		return summary, nil
	}

	if err := s.db.WithContext(ctx).Model(&summary).Updates(updates).Error; err != nil {
		return model.Summary{}, fmt.Errorf("failed to update summary: %w", err)
	}
	return s.Get(ctx, id)
}

// CreateAttempt persists a new delivery attempt record
func (s *GormStore) CreateAttempt(ctx context.Context, attempt model.DeliveryAttempt) (model.DeliveryAttempt, error) {
	if err := s.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		return model.DeliveryAttempt{}, fmt.Errorf("failed to create delivery attempt: %w", err)
	}
	return attempt, nil
}

// GetAttempt returns a delivery attempt by id
func (s *GormStore) GetAttempt(ctx context.Context, id uint) (model.DeliveryAttempt, error) {
	var attempt model.DeliveryAttempt
	if err := s.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.DeliveryAttempt{}, ErrNotFound
		}
		return model.DeliveryAttempt{}, fmt.Errorf("failed to get delivery attempt: %w", err)
	}
	return attempt, nil
}

// TransitionStatus performs a single-row compare-and-set on the
// attempt status
func (s *GormStore) TransitionStatus(ctx context.Context, id uint, from []string, to string, errMsg string, postedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":        to,
		"error_message": errMsg,
	}
	if postedAt != nil {
		updates["posted_at"] = *postedAt
	}

	result := s.db.WithContext(ctx).
		Model(&model.DeliveryAttempt{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition delivery attempt %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListAttempts returns attempts created at or after since, oldest
// first. An empty status matches every status.
func (s *GormStore) ListAttempts(ctx context.Context, status string, since time.Time) ([]model.DeliveryAttempt, error) {
	query := s.db.WithContext(ctx).Where("created_at >= ?", since)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var attempts []model.DeliveryAttempt
	if err := query.Order("created_at asc").Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	return attempts, nil
}

// LatestFailed returns the most recent failed attempt for the summary
func (s *GormStore) LatestFailed(ctx context.Context, summaryID uint) (model.DeliveryAttempt, error) {
	var attempt model.DeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("summary_id = ? AND status = ?", summaryID, model.DeliveryStatusFailed).
		Order("created_at desc, id desc").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.DeliveryAttempt{}, ErrNotFound
		}
		return model.DeliveryAttempt{}, fmt.Errorf("failed to find failed attempt: %w", err)
	}
	return attempt, nil
}

// HasPosted reports whether the summary already has a posted attempt
func (s *GormStore) HasPosted(ctx context.Context, summaryID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.DeliveryAttempt{}).
		Where("summary_id = ? AND status = ?", summaryID, model.DeliveryStatusPosted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check posted attempts: %w", err)
	}
	return count > 0, nil
}
