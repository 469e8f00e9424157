package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Sentiment values produced by the summarizer.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Delivery attempt statuses. A failed attempt may be moved back to
// pending by the retry sweep; posted is final. A failed attempt whose
// summary was later posted by another attempt is marked superseded so
// it is never retried.
const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusPosted     = "posted"
	DeliveryStatusFailed     = "failed"
	DeliveryStatusSuperseded = "superseded"
)

// DeliveryTargetDM selects a direct message to the summary owner
// instead of a channel.
const DeliveryTargetDM = "DM"

// StringList stores a string slice as a JSON text column.
type StringList []string

// Value implements driver.Valuer for StringList
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for StringList
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for string list: %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Summary represents a persisted conversation summary
type Summary struct {
	ID              uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID         string         `json:"owner_id" gorm:"type:varchar(64);not null;index"`
	OrganizationID  string         `json:"organization_id,omitempty" gorm:"type:varchar(64);index"`
	Title           string         `json:"title" gorm:"type:varchar(255);not null"`
	SummaryText     string         `json:"summary_text" gorm:"type:text;not null"`
	Skills          StringList     `json:"skills" gorm:"type:text"`
	RedFlags        StringList     `json:"red_flags" gorm:"type:text"`
	ActionItems     StringList     `json:"action_items" gorm:"type:text"`
	Sentiment       string         `json:"sentiment" gorm:"type:varchar(16)"`
	ConfidenceScore float64        `json:"confidence_score"`
	SourceChannelID string         `json:"source_channel_id" gorm:"type:varchar(64);index"`
	SourceMessageTS string         `json:"source_message_ts,omitempty" gorm:"type:varchar(32)"`
	Model           string         `json:"model" gorm:"type:varchar(64)"`
	Rating          *int           `json:"rating,omitempty"`
	Tags            StringList     `json:"tags" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at"`
	DeletedAt       gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Summary
func (Summary) TableName() string {
	return "summaries"
}

// DeliveryAttempt represents one attempt to post a summary back to the
// chat platform
type DeliveryAttempt struct {
	ID           uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	SummaryID    uint           `json:"summary_id" gorm:"not null;index"`
	Target       string         `json:"target" gorm:"type:varchar(64);not null"`
	Status       string         `json:"status" gorm:"type:varchar(16);not null;index"` // pending, posted, failed
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	PostedAt     *time.Time     `json:"posted_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	Summary *Summary `json:"summary,omitempty" gorm:"foreignKey:SummaryID"`
}

// TableName specifies the table name for DeliveryAttempt
func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}

// Channel holds the channel metadata needed for one pipeline run
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChannelMessage represents a single message fetched from the chat
// platform. Messages are immutable once fetched and are not persisted.
type ChannelMessage struct {
	ID           string    `json:"id"` // platform timestamp, unique within channel
	AuthorID     string    `json:"author_id"`
	Text         string    `json:"text"`
	PostedAt     time.Time `json:"posted_at"`
	ThreadRootID string    `json:"thread_root_id,omitempty"`
	Reactions    []string  `json:"reactions,omitempty"`
	Attachments  []string  `json:"attachments,omitempty"`
}

// UserDirectoryEntry resolves a platform user id to a display name
type UserDirectoryEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsBot       bool   `json:"is_bot"`
}

// Transcript is the normalized text document produced from one
// channel's messages for a given time window
type Transcript struct {
	ChannelID    string    `json:"channel_id"`
	ChannelName  string    `json:"channel_name"`
	Text         string    `json:"text"`
	MessageCount int       `json:"message_count"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
}

// SummaryDraft is the AI-produced result before persistence. Structured
// is false when the model response could not be parsed and the raw text
// was kept as the summary body.
type SummaryDraft struct {
	OwnerID         string   `json:"owner_id"`
	OrganizationID  string   `json:"organization_id,omitempty"`
	Title           string   `json:"title"`
	SummaryText     string   `json:"summary_text"`
	Skills          []string `json:"skills"`
	RedFlags        []string `json:"red_flags"`
	ActionItems     []string `json:"action_items"`
	Sentiment       string   `json:"sentiment"`
	ConfidenceScore float64  `json:"confidence_score"`
	SourceChannelID string   `json:"source_channel_id"`
	SourceMessageTS string   `json:"source_message_ts,omitempty"`
	Model           string   `json:"model"`
	Structured      bool     `json:"structured"`
}

// RunSummaryRequest is the request body for triggering a pipeline run
type RunSummaryRequest struct {
	ChannelID      string     `json:"channel_id" binding:"required"`
	UserID         string     `json:"user_id" binding:"required"`
	OrganizationID string     `json:"organization_id"`
	Oldest         *time.Time `json:"oldest"`
	Latest         *time.Time `json:"latest"`
	Model          string     `json:"model"`
	Deliver        bool       `json:"deliver"`
	Target         string     `json:"target"` // channel id or "DM"
}

// UpdateSummaryRequest carries the user-facing annotations that may be
// changed after creation
type UpdateSummaryRequest struct {
	Rating *int     `json:"rating"`
	Tags   []string `json:"tags"`
}

// ListSummariesResponse wraps a filtered summary page
type ListSummariesResponse struct {
	Items  []Summary `json:"items"`
	Total  int64     `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
