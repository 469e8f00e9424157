package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"channel-summarizer-go/internal/delivery"
	"channel-summarizer-go/internal/fetcher"
	"channel-summarizer-go/internal/metrics"
	"channel-summarizer-go/internal/model"
	"channel-summarizer-go/internal/ratelimit"
	"channel-summarizer-go/internal/store"
	"channel-summarizer-go/internal/summarizer"
	"channel-summarizer-go/internal/transcript"
)

// ErrNothingToSummarize is returned when the requested window contains
// no conversational messages; the AI endpoint is never called.
var ErrNothingToSummarize = errors.New("nothing to summarize in the requested window")

// DefaultWindow is applied when the request does not specify bounds
const DefaultWindow = 24 * time.Hour

// RateLimitError rejects a request with a precise retry-after time
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetAt.Format(time.RFC3339))
}

// PersistenceError wraps a store write failure
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist summary: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Request describes one summarization run
type Request struct {
	Token          string // empty means the configured default token
	ChannelID      string
	UserID         string
	OrganizationID string
	Oldest         time.Time // zero means latest minus DefaultWindow
	Latest         time.Time // zero means now
	Model          string    // empty means the configured model
	Deliver        bool
	Target         string // channel id or "DM", defaults to the source channel
}

// Result is the outcome of one run. DeliveryError carries a failed
// synchronous delivery; the run itself still succeeded and the retry
// sweep owns the failure from here.
type Result struct {
	Summary       model.Summary          `json:"summary"`
	Delivery      *model.DeliveryAttempt `json:"delivery,omitempty"`
	DeliveryError string                 `json:"delivery_error,omitempty"`
}

// Options carries the pipeline-level defaults taken from configuration
type Options struct {
	DefaultToken    string
	DefaultModel    string
	MaxOutputTokens int
	Temperature     float32
	RequireJSON     bool
}

// Pipeline wires the rate gate, fetcher, formatter, summarizer, store
// and delivery machine into one run
type Pipeline struct {
	limiter    ratelimit.Limiter
	fetcher    *fetcher.Fetcher
	summarizer *summarizer.Summarizer
	summaries  store.SummaryStore
	delivery   *delivery.Machine
	metrics    *metrics.Metrics
	opts       Options
}

// New creates a pipeline
func New(limiter ratelimit.Limiter, f *fetcher.Fetcher, s *summarizer.Summarizer, summaries store.SummaryStore, d *delivery.Machine, m *metrics.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		limiter:    limiter,
		fetcher:    f,
		summarizer: s,
		summaries:  summaries,
		delivery:   d,
		metrics:    m,
		opts:       opts,
	}
}

// Run executes one fetch -> format -> summarize -> persist -> deliver
// cycle. On cancellation no partial summary is persisted. A delivery
// failure never fails the run.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	p.metrics.PipelineRuns.Inc()

	result, err := p.run(ctx, req)
	if err != nil {
		p.metrics.PipelineFailures.Inc()
		return Result{}, err
	}

	p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (Result, error) {
	identity := rateLimitIdentity(req)
	allowed, _, resetAt := p.limiter.Check(identity)
	if !allowed {
		p.metrics.RateLimitRejections.Inc()
		return Result{}, &RateLimitError{ResetAt: resetAt}
	}

	token := req.Token
	if token == "" {
		token = p.opts.DefaultToken
	}

	channel, err := p.fetcher.FetchChannel(ctx, token, req.ChannelID)
	if err != nil {
		return Result{}, err
	}

	latest := req.Latest
	if latest.IsZero() {
		latest = time.Now()
	}
	oldest := req.Oldest
	if oldest.IsZero() {
		oldest = latest.Add(-DefaultWindow)
	}

	messages, err := p.fetcher.FetchMessages(ctx, token, channel.ID, oldest, latest)
	if err != nil {
		return Result{}, err
	}
	messages, err = p.fetcher.ExpandThreads(ctx, token, channel.ID, messages)
	if err != nil {
		return Result{}, err
	}

	if len(messages) == 0 {
		return Result{}, ErrNothingToSummarize
	}

	userIDs := authorIDs(messages)
	userIDs = append(userIDs, transcript.MentionIDs(messages)...)
	users, err := p.fetcher.FetchUsers(ctx, token, userIDs)
	if err != nil {
		return Result{}, err
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	t := transcript.Format(messages, users, channel.Name)
	t.ChannelID = channel.ID

	modelID := req.Model
	if modelID == "" {
		modelID = p.opts.DefaultModel
	}
	draft, err := p.summarizer.Summarize(ctx, t, summarizer.Options{
		Model:           modelID,
		MaxOutputTokens: p.opts.MaxOutputTokens,
		Temperature:     p.opts.Temperature,
		RequireJSON:     p.opts.RequireJSON,
	})
	if err != nil {
		return Result{}, err
	}
	if !draft.Structured {
		p.metrics.SummarizeFallbacks.Inc()
	}

	draft.OwnerID = req.UserID
	draft.OrganizationID = req.OrganizationID
	draft.SourceMessageTS = messages[len(messages)-1].ID

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	summary, err := p.summaries.Create(ctx, draft)
	if err != nil {
		return Result{}, &PersistenceError{Err: err}
	}

	result := Result{Summary: summary}
	if req.Deliver {
		target := req.Target
		if target == "" {
			target = channel.ID
		}
		attempt, err := p.delivery.Deliver(ctx, summary.ID, target)
		if err != nil {
			// The summary is persisted; the failure is recorded for
			// the sweep and reported to the caller without failing
			// the run.
			logrus.Errorf("Delivery of summary %d failed: %v", summary.ID, err)
			result.DeliveryError = err.Error()
		} else {
			result.Delivery = &attempt
			if attempt.Status == model.DeliveryStatusFailed {
				result.DeliveryError = attempt.ErrorMessage
			}
		}
	}

	logrus.Infof("Summarized %d messages from #%s into summary %d", t.MessageCount, channel.Name, summary.ID)
	return result, nil
}

func rateLimitIdentity(req Request) string {
	scope := req.OrganizationID
	if scope == "" {
		scope = req.ChannelID
	}
	return req.UserID + ":" + scope
}

func authorIDs(messages []model.ChannelMessage) []string {
	seen := make(map[string]bool, len(messages))
	var ids []string
	for _, msg := range messages {
		if msg.AuthorID != "" && !seen[msg.AuthorID] {
			seen[msg.AuthorID] = true
			ids = append(ids, msg.AuthorID)
		}
	}
	return ids
}
