package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-summarizer-go/internal/model"
)

type fakeClient struct {
	channel     *slack.Channel
	history     []slack.Message
	replies     map[string][]slack.Message
	users       map[string]*slack.User
	historyErr  error
	userErrs    map[string]error
	userCalls   int
	historyArgs []*slack.GetConversationHistoryParameters
}

func (f *fakeClient) GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
	if f.channel == nil {
		return nil, errors.New("channel_not_found")
	}
	return f.channel, nil
}

func (f *fakeClient) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	f.historyArgs = append(f.historyArgs, params)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return &slack.GetConversationHistoryResponse{Messages: f.history}, nil
}

func (f *fakeClient) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	return f.replies[params.Timestamp], false, "", nil
}

func (f *fakeClient) GetUserInfoContext(ctx context.Context, user string) (*slack.User, error) {
	f.userCalls++
	if err, ok := f.userErrs[user]; ok {
		return nil, err
	}
	u, ok := f.users[user]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return u, nil
}

func newTestFetcher(c Client) *Fetcher {
	f := New(func(token string) Client { return c })
	f.lookupWorkers = 1
	return f
}

func msg(ts, user, text string) slack.Message {
	m := slack.Message{}
	m.Timestamp = ts
	m.User = user
	m.Text = text
	return m
}

func TestFetchMessagesFiltersNoise(t *testing.T) {
	joined := msg("1700000001.000100", "U1", "has joined the channel")
	joined.SubType = "channel_join"
	botMsg := msg("1700000002.000100", "", "automated report")
	botMsg.BotID = "B42"

	client := &fakeClient{history: []slack.Message{
		msg("1700000003.000100", "U2", "hello"),
		joined,
		botMsg,
		msg("1700000000.000100", "U1", "first"),
	}}

	f := newTestFetcher(client)
	messages, err := f.FetchMessages(context.Background(), "tok", "C1", time.Unix(1699990000, 0), time.Unix(1700100000, 0))
	require.NoError(t, err)

	require.Len(t, messages, 2)
	// sorted ascending by posted_at
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "hello", messages[1].Text)
	assert.Equal(t, "U1", messages[0].AuthorID)
	assert.Equal(t, "1700000000.000100", messages[0].ID)
	assert.True(t, messages[0].PostedAt.Before(messages[1].PostedAt))
}

func TestFetchMessagesWindowIsInclusive(t *testing.T) {
	client := &fakeClient{}
	f := newTestFetcher(client)

	oldest := time.Unix(1700000000, 0)
	latest := time.Unix(1700003600, 0)
	_, err := f.FetchMessages(context.Background(), "tok", "C1", oldest, latest)
	require.NoError(t, err)

	require.Len(t, client.historyArgs, 1)
	assert.Equal(t, "1700000000.000000", client.historyArgs[0].Oldest)
	assert.Equal(t, "1700003600.000000", client.historyArgs[0].Latest)
	assert.True(t, client.historyArgs[0].Inclusive)
}

func TestFetchMessagesUnauthorized(t *testing.T) {
	client := &fakeClient{historyErr: errors.New("invalid_auth")}
	f := newTestFetcher(client)

	_, err := f.FetchMessages(context.Background(), "tok", "C1", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, KindUnauthorized, fetchErr.Kind)
	assert.False(t, fetchErr.Retryable())
}

func TestFetchMessagesRateLimitedIsTransient(t *testing.T) {
	client := &fakeClient{historyErr: &slack.RateLimitedError{RetryAfter: 3 * time.Second}}
	f := newTestFetcher(client)

	_, err := f.FetchMessages(context.Background(), "tok", "C1", time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, KindTransient, fetchErr.Kind)
	assert.True(t, fetchErr.Retryable())
}

func TestFetchUsersSkipsFailedLookups(t *testing.T) {
	client := &fakeClient{
		users: map[string]*slack.User{
			"U1": {ID: "U1", Name: "alice", Profile: slack.UserProfile{DisplayName: "Alice"}},
			"U3": {ID: "U3", Name: "carol", RealName: "Carol C"},
		},
		userErrs: map[string]error{"U2": errors.New("user_not_found")},
	}
	f := newTestFetcher(client)

	entries, err := f.FetchUsers(context.Background(), "tok", []string{"U1", "U2", "U3", "U1", ""})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "Alice", entries[0].DisplayName)
	assert.Equal(t, "Carol C", entries[1].DisplayName)
	// duplicate and empty ids are not looked up twice
	assert.Equal(t, 3, client.userCalls)
}

func TestExpandThreadsMergesReplies(t *testing.T) {
	parent := msg("1700000000.000100", "U1", "thread start")
	parent.ThreadTimestamp = parent.Timestamp
	reply := msg("1700000010.000100", "U2", "thread reply")
	reply.ThreadTimestamp = parent.Timestamp

	client := &fakeClient{
		replies: map[string][]slack.Message{
			parent.Timestamp: {parent, reply},
		},
	}
	f := newTestFetcher(client)

	base, ok := convertMessage(parent)
	require.True(t, ok)
	later, ok := convertMessage(msg("1700000020.000100", "U3", "after the thread"))
	require.True(t, ok)

	merged, err := f.ExpandThreads(context.Background(), "tok", "C1", []model.ChannelMessage{base, later})
	require.NoError(t, err)

	require.Len(t, merged, 3)
	assert.Equal(t, "thread start", merged[0].Text)
	assert.Equal(t, "thread reply", merged[1].Text)
	assert.Equal(t, "after the thread", merged[2].Text)
}

func TestConvertMessageThreadRoot(t *testing.T) {
	m := msg("1700000000.000100", "U1", "root")
	m.ThreadTimestamp = m.Timestamp

	converted, ok := convertMessage(m)
	require.True(t, ok)
	assert.Equal(t, converted.ID, converted.ThreadRootID)
	assert.Equal(t, time.Unix(1700000000, 100000).UTC(), converted.PostedAt)
}
