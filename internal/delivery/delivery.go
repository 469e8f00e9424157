package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"channel-summarizer-go/internal/metrics"
	"channel-summarizer-go/internal/model"
	"channel-summarizer-go/internal/store"
)

// ErrAlreadyDelivered is returned when the summary already has an
// authoritative posted attempt
var ErrAlreadyDelivered = fmt.Errorf("summary already delivered")

// Poster posts messages to the chat platform
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Machine drives delivery attempts through pending -> posted | failed.
// Failed attempts are re-entered into pending by RetrySweep. The
// platform offers no idempotency key for posts, so retries after a
// flaky partial success may duplicate a message; delivery is
// at-least-once.
type Machine struct {
	attempts  store.DeliveryStore
	summaries store.SummaryStore
	poster    Poster
	cutoff    time.Duration
	metrics   *metrics.Metrics
}

// New creates a delivery machine. cutoff bounds how far back the retry
// sweep looks for failed attempts.
func New(attempts store.DeliveryStore, summaries store.SummaryStore, poster Poster, cutoff time.Duration, m *metrics.Metrics) *Machine {
	return &Machine{
		attempts:  attempts,
		summaries: summaries,
		poster:    poster,
		cutoff:    cutoff,
		metrics:   m,
	}
}

// Deliver posts the summary to the destination exactly once and records
// the outcome. Every call leaves a persisted attempt with a terminal
// status; a post failure is returned inside the attempt, not as error.
func (m *Machine) Deliver(ctx context.Context, summaryID uint, target string) (model.DeliveryAttempt, error) {
	posted, err := m.attempts.HasPosted(ctx, summaryID)
	if err != nil {
		return model.DeliveryAttempt{}, fmt.Errorf("failed to check delivery history: %w", err)
	}
	if posted {
		return model.DeliveryAttempt{}, ErrAlreadyDelivered
	}

	summary, err := m.summaries.Get(ctx, summaryID)
	if err != nil {
		return model.DeliveryAttempt{}, fmt.Errorf("failed to load summary %d: %w", summaryID, err)
	}

	// Re-claim an existing failed attempt for the same destination
	// instead of inserting a fresh row, so a concurrent sweep and a
	// direct Deliver serialize on the same compare-and-set and the
	// summary never accumulates stale failed rows for one destination.
	if prior, err := m.attempts.LatestFailed(ctx, summaryID); err == nil && prior.Target == target {
		claimed, err := m.attempts.TransitionStatus(ctx, prior.ID,
			[]string{model.DeliveryStatusFailed}, model.DeliveryStatusPending, "", nil)
		if err != nil {
			return model.DeliveryAttempt{}, fmt.Errorf("failed to claim attempt %d: %w", prior.ID, err)
		}
		if claimed {
			prior.Status = model.DeliveryStatusPending
			return m.post(ctx, prior, summary)
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return model.DeliveryAttempt{}, fmt.Errorf("failed to check failed attempts: %w", err)
	}

	attempt, err := m.attempts.CreateAttempt(ctx, model.DeliveryAttempt{
		SummaryID: summaryID,
		Target:    target,
		Status:    model.DeliveryStatusPending,
	})
	if err != nil {
		return model.DeliveryAttempt{}, fmt.Errorf("failed to create delivery attempt: %w", err)
	}

	return m.post(ctx, attempt, summary)
}

// post attempts one platform post and moves the attempt out of pending
// via compare-and-set
func (m *Machine) post(ctx context.Context, attempt model.DeliveryAttempt, summary model.Summary) (model.DeliveryAttempt, error) {
	destination := attempt.Target
	if destination == model.DeliveryTargetDM {
		destination = summary.OwnerID
	}

	_, _, postErr := m.poster.PostMessageContext(ctx, destination,
		slack.MsgOptionText(renderSummaryMessage(summary), false),
		slack.MsgOptionPostMessageParameters(slack.PostMessageParameters{
			UnfurlLinks: false,
			UnfurlMedia: false,
		}),
	)

	if postErr != nil {
		logrus.Warnf("Failed to post summary %d to %s: %v", summary.ID, attempt.Target, postErr)
		m.metrics.DeliveryFailures.Inc()
		if _, err := m.attempts.TransitionStatus(ctx, attempt.ID,
			[]string{model.DeliveryStatusPending}, model.DeliveryStatusFailed, postErr.Error(), nil); err != nil {
			return model.DeliveryAttempt{}, fmt.Errorf("failed to record delivery failure: %w", err)
		}
	} else {
		now := time.Now()
		m.metrics.DeliverySuccesses.Inc()
		if _, err := m.attempts.TransitionStatus(ctx, attempt.ID,
			[]string{model.DeliveryStatusPending}, model.DeliveryStatusPosted, "", &now); err != nil {
			return model.DeliveryAttempt{}, fmt.Errorf("failed to record delivery success: %w", err)
		}
		logrus.Infof("Posted summary %d to %s", summary.ID, attempt.Target)
	}

	return m.attempts.GetAttempt(ctx, attempt.ID)
}

// RetrySweep re-attempts delivery for failed attempts within the
// configured cutoff. Attempts already posted are never revisited, and
// a failed attempt whose summary was posted by another attempt is
// retired as superseded rather than re-posted. A concurrent Deliver or
// sweep loses the failed -> pending claim and skips the record.
func (m *Machine) RetrySweep(ctx context.Context) (retried int, succeeded int, err error) {
	since := time.Now().Add(-m.cutoff)

	failed, err := m.attempts.ListAttempts(ctx, model.DeliveryStatusFailed, since)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list failed deliveries: %w", err)
	}

	for _, attempt := range failed {
		select {
		case <-ctx.Done():
			return retried, succeeded, ctx.Err()
		default:
		}

		// A summary with an authoritative posted attempt is never
		// re-posted; stale failed rows are retired instead.
		posted, err := m.attempts.HasPosted(ctx, attempt.SummaryID)
		if err != nil {
			return retried, succeeded, fmt.Errorf("failed to check delivery history: %w", err)
		}
		if posted {
			if _, err := m.attempts.TransitionStatus(ctx, attempt.ID,
				[]string{model.DeliveryStatusFailed}, model.DeliveryStatusSuperseded,
				"summary already posted by another attempt", nil); err != nil {
				return retried, succeeded, fmt.Errorf("failed to retire attempt %d: %w", attempt.ID, err)
			}
			continue
		}

		claimed, err := m.attempts.TransitionStatus(ctx, attempt.ID,
			[]string{model.DeliveryStatusFailed}, model.DeliveryStatusPending, "", nil)
		if err != nil {
			return retried, succeeded, fmt.Errorf("failed to claim attempt %d: %w", attempt.ID, err)
		}
		if !claimed {
			continue
		}

		retried++
		m.metrics.SweepRetries.Inc()

		summary, err := m.summaries.Get(ctx, attempt.SummaryID)
		if err != nil {
			logrus.Errorf("Failed to load summary %d for retry: %v", attempt.SummaryID, err)
			m.attempts.TransitionStatus(ctx, attempt.ID,
				[]string{model.DeliveryStatusPending}, model.DeliveryStatusFailed, err.Error(), nil)
			continue
		}

		result, err := m.post(ctx, reloadPending(attempt), summary)
		if err != nil {
			logrus.Errorf("Failed to retry delivery %d: %v", attempt.ID, err)
			continue
		}
		if result.Status == model.DeliveryStatusPosted {
			succeeded++
		}
	}

	if retried > 0 {
		logrus.Infof("Delivery sweep retried %d attempts, %d succeeded", retried, succeeded)
	}
	return retried, succeeded, nil
}

func reloadPending(attempt model.DeliveryAttempt) model.DeliveryAttempt {
	attempt.Status = model.DeliveryStatusPending
	return attempt
}

var sentimentLabels = map[string]string{
	model.SentimentPositive: ":large_green_circle:",
	model.SentimentNeutral:  ":white_circle:",
	model.SentimentNegative: ":red_circle:",
}

// renderSummaryMessage builds the platform message body for a summary
func renderSummaryMessage(summary model.Summary) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("*%s*\n", summary.Title))
	if label, ok := sentimentLabels[summary.Sentiment]; ok {
		b.WriteString(fmt.Sprintf("%s Sentiment: %s\n", label, summary.Sentiment))
	}
	b.WriteString("\n")
	b.WriteString(summary.SummaryText)
	b.WriteString("\n")

	if len(summary.ActionItems) > 0 {
		b.WriteString("\n*Action items*\n")
		for _, item := range summary.ActionItems {
			b.WriteString(fmt.Sprintf("• %s\n", item))
		}
	}
	if len(summary.RedFlags) > 0 {
		b.WriteString("\n*Red flags*\n")
		for _, flag := range summary.RedFlags {
			b.WriteString(fmt.Sprintf("• %s\n", flag))
		}
	}

	return b.String()
}
