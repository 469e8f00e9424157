package fetcher

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"channel-summarizer-go/internal/model"
)

// Client is the subset of the chat platform API the fetcher needs
type Client interface {
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
}

// ClientFactory builds a platform client scoped to a token
type ClientFactory func(token string) Client

// SlackClientFactory returns a factory backed by the real Slack API
func SlackClientFactory() ClientFactory {
	return func(token string) Client {
		return slack.New(token)
	}
}

// Message subtypes that carry no conversational content. Filtering them
// out here directly controls summarization quality.
var noiseSubtypes = map[string]bool{
	"channel_join":    true,
	"channel_leave":   true,
	"group_join":      true,
	"group_leave":     true,
	"channel_topic":   true,
	"channel_purpose": true,
	"channel_name":    true,
	"bot_message":     true,
}

// Fetcher retrieves channel metadata, message history, thread replies
// and user directory entries from the chat platform
type Fetcher struct {
	clients       ClientFactory
	pageLimit     int
	lookupWorkers int
}

// New creates a fetcher using the given client factory
func New(clients ClientFactory) *Fetcher {
	return &Fetcher{
		clients:       clients,
		pageLimit:     200,
		lookupWorkers: 4,
	}
}

// FetchChannel retrieves channel metadata
func (f *Fetcher) FetchChannel(ctx context.Context, token, channelID string) (model.Channel, error) {
	api := f.clients(token)

	ch, err := api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return model.Channel{}, classify("fetch channel", err)
	}

	return model.Channel{ID: ch.ID, Name: ch.Name}, nil
}

// FetchMessages retrieves the channel history within the inclusive
// [oldest, latest] window, with system and bot noise filtered out
func (f *Fetcher) FetchMessages(ctx context.Context, token, channelID string, oldest, latest time.Time) ([]model.ChannelMessage, error) {
	api := f.clients(token)

	var messages []model.ChannelMessage
	cursor := ""
	for {
		resp, err := api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Oldest:    formatTimestamp(oldest),
			Latest:    formatTimestamp(latest),
			Inclusive: true,
			Limit:     f.pageLimit,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, classify("fetch messages", err)
		}

		for _, msg := range resp.Messages {
			if m, ok := convertMessage(msg); ok {
				messages = append(messages, m)
			}
		}

		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].PostedAt.Before(messages[j].PostedAt)
	})
	return messages, nil
}

// FetchThreadReplies retrieves the replies of one thread, excluding the
// root message itself
func (f *Fetcher) FetchThreadReplies(ctx context.Context, token, channelID, threadRootID string) ([]model.ChannelMessage, error) {
	api := f.clients(token)

	var replies []model.ChannelMessage
	cursor := ""
	for {
		msgs, hasMore, nextCursor, err := api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadRootID,
			Limit:     f.pageLimit,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, classify("fetch thread replies", err)
		}

		for _, msg := range msgs {
			if msg.Timestamp == threadRootID {
				continue
			}
			if m, ok := convertMessage(msg); ok {
				replies = append(replies, m)
			}
		}

		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	return replies, nil
}

// ExpandThreads fetches the replies for every thread root in msgs and
// merges them into a single deduplicated slice. Reply fetches run with
// bounded parallelism for latency only; a failed thread is logged and
// skipped.
func (f *Fetcher) ExpandThreads(ctx context.Context, token, channelID string, msgs []model.ChannelMessage) ([]model.ChannelMessage, error) {
	var roots []string
	for _, m := range msgs {
		if m.ThreadRootID != "" && m.ThreadRootID == m.ID {
			roots = append(roots, m.ID)
		}
	}
	if len(roots) == 0 {
		return msgs, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, f.lookupWorkers)

	merged := make([]model.ChannelMessage, len(msgs))
	copy(merged, msgs)
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = true
	}

	for _, root := range roots {
		wg.Add(1)
		sem <- struct{}{}
		go func(rootID string) {
			defer wg.Done()
			defer func() { <-sem }()

			replies, err := f.FetchThreadReplies(ctx, token, channelID, rootID)
			if err != nil {
				logrus.Warnf("Failed to fetch replies for thread %s: %v", rootID, err)
				return
			}

			mu.Lock()
			for _, r := range replies {
				if !seen[r.ID] {
					seen[r.ID] = true
					merged = append(merged, r)
				}
			}
			mu.Unlock()
		}(root)
	}
	wg.Wait()

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PostedAt.Before(merged[j].PostedAt)
	})
	return merged, nil
}

// FetchUsers resolves user ids to directory entries. Lookups are
// per-id with best-effort continuation: a failed lookup is logged and
// skipped, never aborting the whole fetch.
func (f *Fetcher) FetchUsers(ctx context.Context, token string, ids []string) ([]model.UserDirectoryEntry, error) {
	api := f.clients(token)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, f.lookupWorkers)

	var entries []model.UserDirectoryEntry
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			user, err := api.GetUserInfoContext(ctx, userID)
			if err != nil {
				logrus.Warnf("Failed to look up user %s: %v", userID, err)
				return
			}

			mu.Lock()
			entries = append(entries, model.UserDirectoryEntry{
				ID:          user.ID,
				DisplayName: displayName(user),
				IsBot:       user.IsBot,
			})
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func displayName(u *slack.User) string {
	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}
	if u.RealName != "" {
		return u.RealName
	}
	return u.Name
}

// convertMessage maps a platform message to the pipeline's message
// type, reporting false for system and bot noise
func convertMessage(msg slack.Message) (model.ChannelMessage, bool) {
	if noiseSubtypes[msg.SubType] || msg.BotID != "" {
		return model.ChannelMessage{}, false
	}
	if msg.Text == "" && len(msg.Files) == 0 {
		return model.ChannelMessage{}, false
	}

	m := model.ChannelMessage{
		ID:       msg.Timestamp,
		AuthorID: msg.User,
		Text:     msg.Text,
		PostedAt: parseTimestamp(msg.Timestamp),
	}
	if msg.ThreadTimestamp != "" {
		m.ThreadRootID = msg.ThreadTimestamp
	}
	for _, reaction := range msg.Reactions {
		m.Reactions = append(m.Reactions, reaction.Name)
	}
	for _, file := range msg.Files {
		m.Attachments = append(m.Attachments, file.Name)
	}
	for _, att := range msg.Attachments {
		if att.Title != "" {
			m.Attachments = append(m.Attachments, att.Title)
		}
	}
	return m, true
}

// parseTimestamp converts a platform "seconds.micros" timestamp
func parseTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if len(parts) == 2 {
		frac := parts[1]
		for len(frac) < 9 {
			frac += "0"
		}
		nsec, _ = strconv.ParseInt(frac[:9], 10, 64)
	}
	return time.Unix(sec, nsec).UTC()
}

// formatTimestamp converts a time to the platform timestamp format
func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
