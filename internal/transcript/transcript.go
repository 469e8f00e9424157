package transcript

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"channel-summarizer-go/internal/model"
)

var (
	mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)
	channelPattern = regexp.MustCompile(`<#([A-Z0-9]+)\|([^>]*)>`)
)

const timestampLayout = "2006-01-02 15:04"

// Format turns raw messages and a user directory into one normalized
// text document. It is a pure function: malformed input degrades
// gracefully, unknown author ids are rendered verbatim.
func Format(messages []model.ChannelMessage, users []model.UserDirectoryEntry, channelName string) model.Transcript {
	directory := make(map[string]string, len(users))
	for _, u := range users {
		directory[u.ID] = u.DisplayName
	}

	sorted := make([]model.ChannelMessage, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PostedAt.Equal(sorted[j].PostedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].PostedAt.Before(sorted[j].PostedAt)
	})

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Conversation in #%s\n", channelName))

	for _, msg := range sorted {
		author := msg.AuthorID
		if name, ok := directory[msg.AuthorID]; ok && name != "" {
			author = name
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n",
			msg.PostedAt.Local().Format(timestampLayout),
			author,
			cleanText(msg.Text, directory),
		))
	}

	t := model.Transcript{
		ChannelName:  channelName,
		Text:         b.String(),
		MessageCount: len(sorted),
	}
	if len(sorted) > 0 {
		t.WindowStart = sorted[0].PostedAt
		t.WindowEnd = sorted[len(sorted)-1].PostedAt
	}
	return t
}

// cleanText resolves mention and channel reference tokens to readable
// names. Unresolved references are kept verbatim rather than dropped.
func cleanText(text string, directory map[string]string) string {
	text = mentionPattern.ReplaceAllStringFunc(text, func(token string) string {
		id := mentionPattern.FindStringSubmatch(token)[1]
		if name, ok := directory[id]; ok && name != "" {
			return "@" + name
		}
		return token
	})

	text = channelPattern.ReplaceAllStringFunc(text, func(token string) string {
		parts := channelPattern.FindStringSubmatch(token)
		if parts[2] != "" {
			return "#" + parts[2]
		}
		return token
	})

	return strings.ReplaceAll(text, "\n", " ")
}

// MentionIDs collects the user ids referenced by mention tokens across
// all messages, for directory resolution ahead of formatting
func MentionIDs(messages []model.ChannelMessage) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, msg := range messages {
		for _, match := range mentionPattern.FindAllStringSubmatch(msg.Text, -1) {
			if !seen[match[1]] {
				seen[match[1]] = true
				ids = append(ids, match[1])
			}
		}
	}
	return ids
}
