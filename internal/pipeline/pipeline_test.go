package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-summarizer-go/internal/delivery"
	"channel-summarizer-go/internal/fetcher"
	"channel-summarizer-go/internal/metrics"
	"channel-summarizer-go/internal/model"
	"channel-summarizer-go/internal/ratelimit"
	"channel-summarizer-go/internal/store"
	"channel-summarizer-go/internal/summarizer"
)

var testMetrics = metrics.NewMetrics()

type fakeSlack struct {
	channel *slack.Channel
	history []slack.Message
	users   map[string]*slack.User
}

func (f *fakeSlack) GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
	return f.channel, nil
}

func (f *fakeSlack) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	return &slack.GetConversationHistoryResponse{Messages: f.history}, nil
}

func (f *fakeSlack) GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error) {
	return nil, false, "", nil
}

func (f *fakeSlack) GetUserInfoContext(ctx context.Context, user string) (*slack.User, error) {
	u, ok := f.users[user]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return u, nil
}

type fakeCompletion struct {
	content string
	err     error
	calls   int
}

func (f *fakeCompletion) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

type fakePoster struct {
	err   error
	posts []string
}

func (f *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.posts = append(f.posts, channelID)
	return channelID, "1700009999.000100", nil
}

func msg(ts, user, text string) slack.Message {
	m := slack.Message{}
	m.Timestamp = ts
	m.User = user
	m.Text = text
	return m
}

func user(id, name string) *slack.User {
	return &slack.User{ID: id, Name: name, Profile: slack.UserProfile{DisplayName: name}}
}

type testEnv struct {
	pipeline   *Pipeline
	slack      *fakeSlack
	completion *fakeCompletion
	poster     *fakePoster
	store      *store.MemoryStore
	limiter    *ratelimit.WindowLimiter
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	sl := &fakeSlack{
		channel: &slack.Channel{},
		history: []slack.Message{
			msg("1700000300.000100", "U2", "deploy is done"),
			msg("1700000200.000100", "U1", "rolling it out now"),
			msg("1700000100.000100", "U1", "starting the deploy"),
		},
		users: map[string]*slack.User{
			"U1": user("U1", "alice"),
			"U2": user("U2", "bob"),
		},
	}
	sl.channel.ID = "C1"
	sl.channel.Name = "deploys"

	completion := &fakeCompletion{
		content: `{"title":"Deploy recap","summary":"The deploy finished cleanly.","skills":["deployment"],"red_flags":[],"action_items":[],"sentiment":"Positive","confidence":0.8}`,
	}
	poster := &fakePoster{}
	mem := store.NewMemoryStore()
	limiter := ratelimit.NewWindowLimiter(10, time.Hour)

	f := fetcher.New(func(token string) fetcher.Client { return sl })
	s := summarizer.New(completion, "gpt-4o-mini")
	d := delivery.New(mem, mem, poster, 72*time.Hour, testMetrics)

	p := New(limiter, f, s, mem, d, testMetrics, Options{
		DefaultToken: "xoxb-default",
		DefaultModel: "gpt-4o",
		RequireJSON:  true,
	})

	return &testEnv{pipeline: p, slack: sl, completion: completion, poster: poster, store: mem, limiter: limiter}
}

func testRequest() Request {
	return Request{
		ChannelID: "C1",
		UserID:    "U1",
		Oldest:    time.Unix(1700000000, 0),
		Latest:    time.Unix(1700003600, 0),
	}
}

func TestRunSummarizesAndPersists(t *testing.T) {
	env := newEnv(t)

	result, err := env.pipeline.Run(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, env.completion.calls)
	assert.Equal(t, "Deploy recap", result.Summary.Title)
	assert.Equal(t, "U1", result.Summary.OwnerID)
	assert.Equal(t, "C1", result.Summary.SourceChannelID)
	assert.Equal(t, "1700000300.000100", result.Summary.SourceMessageTS)
	assert.NotZero(t, result.Summary.ID)

	stored, err := env.store.Get(context.Background(), result.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, "The deploy finished cleanly.", stored.SummaryText)
}

func TestRunEmptyWindowSkipsAICall(t *testing.T) {
	env := newEnv(t)
	env.slack.history = nil

	_, err := env.pipeline.Run(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrNothingToSummarize)

	assert.Zero(t, env.completion.calls)

	listed, _, err := env.store.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRunRateLimited(t *testing.T) {
	env := newEnv(t)

	for i := 0; i < 10; i++ {
		_, err := env.pipeline.Run(context.Background(), testRequest())
		require.NoError(t, err)
	}

	_, err := env.pipeline.Run(context.Background(), testRequest())
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.False(t, rle.ResetAt.IsZero())
	assert.Equal(t, 10, env.completion.calls)
}

func TestRunRateLimitScopedPerIdentity(t *testing.T) {
	env := newEnv(t)

	for i := 0; i < 10; i++ {
		_, err := env.pipeline.Run(context.Background(), testRequest())
		require.NoError(t, err)
	}

	other := testRequest()
	other.UserID = "U2"
	_, err := env.pipeline.Run(context.Background(), other)
	require.NoError(t, err)
}

func TestRunDeliversWhenRequested(t *testing.T) {
	env := newEnv(t)

	req := testRequest()
	req.Deliver = true
	result, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, result.Delivery)
	assert.Equal(t, model.DeliveryStatusPosted, result.Delivery.Status)
	// defaults to the source channel
	assert.Equal(t, []string{"C1"}, env.poster.posts)
	assert.Empty(t, result.DeliveryError)
}

func TestRunDeliveryFailureDoesNotFailRun(t *testing.T) {
	env := newEnv(t)
	env.poster.err = errors.New("channel_not_found")

	req := testRequest()
	req.Deliver = true
	result, err := env.pipeline.Run(context.Background(), req)
	require.NoError(t, err)

	assert.NotZero(t, result.Summary.ID)
	require.NotNil(t, result.Delivery)
	assert.Equal(t, model.DeliveryStatusFailed, result.Delivery.Status)
	assert.NotEmpty(t, result.DeliveryError)
}

func TestRunCancelledBeforePersist(t *testing.T) {
	env := newEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.pipeline.Run(ctx, testRequest())
	require.Error(t, err)

	listed, _, err := env.store.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRunSummarizerErrorPropagates(t *testing.T) {
	env := newEnv(t)
	env.completion.err = &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}

	_, err := env.pipeline.Run(context.Background(), testRequest())
	var ue *summarizer.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, summarizer.UpstreamUnavailable, ue.Kind)
}
