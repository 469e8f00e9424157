package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"channel-summarizer-go/internal/model"
)

const systemInstruction = `You summarize workplace chat conversations.
Given a conversation transcript, respond with a single JSON object with exactly these fields:
  "title": short descriptive title for the conversation (string)
  "summary": concise summary of what was discussed and decided (string)
  "skills": skills or expertise demonstrated by participants (array of strings)
  "red_flags": concerns, blockers or risks raised (array of strings)
  "action_items": concrete follow-ups with owners where stated (array of strings)
  "sentiment": overall tone, one of "positive", "neutral" or "negative" (string)
  "confidence": how confident you are in the summary, 0.0 to 1.0 (number)
Respond with the JSON object only, no surrounding prose.`

// Confidence assigned when the model response could not be parsed and
// the raw text was kept as the summary body.
const fallbackConfidence = 0.3

// CompletionClient is the subset of the AI endpoint the orchestrator
// needs
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options enumerates the recognized generation options for one request
type Options struct {
	Model           string
	MaxOutputTokens int
	Temperature     float32
	RequireJSON     bool
}

// Summarizer sends transcripts to the AI completion endpoint and
// parses the structured result
type Summarizer struct {
	client        CompletionClient
	fallbackModel string
}

// New creates a summarizer. fallbackModel is used for the single
// fallback hop when the requested model is unavailable.
func New(client CompletionClient, fallbackModel string) *Summarizer {
	return &Summarizer{client: client, fallbackModel: fallbackModel}
}

// Summarize sends the transcript to the completion endpoint and returns
// a draft. A response that fails structured parsing is degraded to a
// plain-text draft with a confidence penalty, never discarded.
func (s *Summarizer) Summarize(ctx context.Context, t model.Transcript, opts Options) (model.SummaryDraft, error) {
	usedModel := opts.Model
	if usedModel == "" {
		usedModel = s.fallbackModel
	}

	content, err := s.complete(ctx, t.Text, usedModel, opts)
	if err != nil {
		// Exactly one deterministic hop to the configured default
		// model when the requested one is unavailable.
		if modelUnavailable(err) && s.fallbackModel != "" && usedModel != s.fallbackModel {
			logrus.Warnf("Model %s unavailable, falling back to %s", usedModel, s.fallbackModel)
			usedModel = s.fallbackModel
			content, err = s.complete(ctx, t.Text, usedModel, opts)
		}
		if err != nil {
			return model.SummaryDraft{}, classify(usedModel, err)
		}
	}

	draft := parseDraft(content, t.ChannelName)
	draft.Model = usedModel
	draft.SourceChannelID = t.ChannelID
	return draft, nil
}

func (s *Summarizer) complete(ctx context.Context, transcriptText, modelID string, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: transcriptText},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxOutputTokens,
	}
	if opts.RequireJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Kind: UpstreamUnavailable, Model: modelID, Err: fmt.Errorf("no response choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// draftPayload is the structured shape requested from the model
type draftPayload struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Skills      []string `json:"skills"`
	RedFlags    []string `json:"red_flags"`
	ActionItems []string `json:"action_items"`
	Sentiment   string   `json:"sentiment"`
	Confidence  float64  `json:"confidence"`
}

// parseDraft attempts strict structured parsing first and degrades to a
// plain-text draft on failure
func parseDraft(content, channelName string) model.SummaryDraft {
	cleaned := cleanJSON(content)

	var payload draftPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil || strings.TrimSpace(payload.Summary) == "" {
		if err != nil {
			logrus.Warnf("Failed to parse structured summary, keeping raw text: %v", err)
		}
		return model.SummaryDraft{
			Title:           fmt.Sprintf("Summary of #%s", channelName),
			SummaryText:     strings.TrimSpace(content),
			Sentiment:       model.SentimentNeutral,
			ConfidenceScore: fallbackConfidence,
			Structured:      false,
		}
	}

	title := strings.TrimSpace(payload.Title)
	if title == "" {
		title = fmt.Sprintf("Summary of #%s", channelName)
	}

	return model.SummaryDraft{
		Title:           title,
		SummaryText:     strings.TrimSpace(payload.Summary),
		Skills:          payload.Skills,
		RedFlags:        payload.RedFlags,
		ActionItems:     payload.ActionItems,
		Sentiment:       normalizeSentiment(payload.Sentiment),
		ConfidenceScore: clampConfidence(payload.Confidence),
		Structured:      true,
	}
}

// cleanJSON strips markdown code fences some models wrap around JSON
func cleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case model.SentimentPositive:
		return model.SentimentPositive
	case model.SentimentNegative:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
