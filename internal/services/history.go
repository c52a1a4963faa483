package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

// ParsedMessage is one message extracted from a raw history string, in the
// order it appears in the source.
type ParsedMessage struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

const maxUnstructuredHistoryChars = 10000

var historyTagRe = regexp.MustCompile(`(?s)<(USER|BOT|SALE)>(.*?)</(USER|BOT|SALE)>`)

type HistoryService interface {
	ExtractNewHistory(current, processed string) string
	ParseHistory(history string) []ParsedMessage
}

type historyService struct {
	log *logger.Logger
}

func NewHistoryService(baseLog *logger.Logger) HistoryService {
	return &historyService{log: baseLog.With("service", "HistoryService")}
}

// ExtractNewHistory returns the part of current that follows the already
// processed prefix. When the processed prefix cannot be located inside
// current, the whole string is returned; supersession handles any resulting
// duplicate AI call.
func (s *historyService) ExtractNewHistory(current, processed string) string {
	if processed == "" {
		return current
	}
	idx := strings.Index(current, processed)
	if idx < 0 {
		return current
	}
	return strings.TrimSpace(current[idx+len(processed):])
}

// ParseHistory splits a history string into ordered messages using the
// <USER>/<BOT>/<SALE> tag markup separated by <br>. Fragments whose opening
// and closing tags disagree are dropped. When no markup parses at all the
// raw text is returned as a single user message, truncated to the last
// 10000 characters.
func (s *historyService) ParseHistory(history string) []ParsedMessage {
	trimmed := strings.TrimSpace(history)
	if trimmed == "" {
		return []ParsedMessage{}
	}

	base := float64(time.Now().UnixNano()) / 1e9
	matches := historyTagRe.FindAllStringSubmatch(trimmed, -1)

	out := make([]ParsedMessage, 0, len(matches))
	for _, m := range matches {
		if m[1] != m[3] {
			continue
		}
		content := strings.TrimSpace(m[2])
		if content == "" {
			continue
		}
		out = append(out, ParsedMessage{
			Role:      roleForTag(m[1]),
			Content:   content,
			Timestamp: base + float64(len(out))*0.001,
		})
	}
	if len(out) > 0 {
		return out
	}

	// No structured markup at all. Never abort: hand the raw text to the AI
	// as a single user message.
	text := strings.ReplaceAll(trimmed, "<br>", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return []ParsedMessage{}
	}
	if len(text) > maxUnstructuredHistoryChars {
		text = text[len(text)-maxUnstructuredHistoryChars:]
	}
	s.log.Debug("History had no tag markup, treating as single user message", "chars", len(text))
	return []ParsedMessage{{
		Role:      types.MessageRoleUser,
		Content:   text,
		Timestamp: base,
	}}
}

func roleForTag(tag string) string {
	switch tag {
	case "BOT":
		return types.MessageRoleBot
	case "SALE":
		return types.MessageRoleSale
	default:
		return types.MessageRoleUser
	}
}
