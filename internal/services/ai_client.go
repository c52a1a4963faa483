package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietbot/chatbridge-backend/internal/logger"
	"github.com/vietbot/chatbridge-backend/internal/types"
)

// AIResult is the interpreted response of one AI call. Action and Data pass
// through opaque to the dispatcher.
type AIResult struct {
	Success          bool           `json:"success"`
	Action           string         `json:"action,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Error            string         `json:"error,omitempty"`
}

type aiWireMessage struct {
	Role      string  `json:"role"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

type aiRequest struct {
	Index    int64           `json:"index"`
	Messages []aiWireMessage `json:"messages"`
	Resource map[string]any  `json:"resource"`
}

type aiResponse struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

type AIClient interface {
	Process(ctx context.Context, cfg AIConfig, convID string, messages []ParsedMessage, resources map[string]any, lockID string) *AIResult
}

type aiClient struct {
	log *logger.Logger
}

func NewAIClient(baseLog *logger.Logger) AIClient {
	return &aiClient{log: baseLog.With("service", "AIClient")}
}

// lockIndex derives the integer index the AI endpoint expects from the lock
// id. Non-numeric lock ids substitute the current unix second.
func lockIndex(lockID string) int64 {
	if n, err := strconv.ParseInt(strings.TrimSpace(lockID), 10, 64); err == nil {
		return n
	}
	return time.Now().Unix()
}

func wireRole(role string) string {
	if role == types.MessageRoleBot {
		return "assistant"
	}
	return role
}

func (c *aiClient) Process(ctx context.Context, cfg AIConfig, convID string, messages []ParsedMessage, resources map[string]any, lockID string) *AIResult {
	started := time.Now()
	log := c.log.With("conversation_id", convID, "lock_id", lockID)

	endpoint := strings.ReplaceAll(cfg.APIEndpoint, "{session_id}", convID)

	wire := make([]aiWireMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, aiWireMessage{
			Role:      wireRole(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	if resources == nil {
		resources = map[string]any{}
	}

	body, err := json.Marshal(aiRequest{
		Index:    lockIndex(lockID),
		Messages: wire,
		Resource: resources,
	})
	if err != nil {
		return &AIResult{Success: false, Error: "failed to encode AI request: " + err.Error(), ProcessingTimeMs: time.Since(started).Milliseconds()}
	}

	timeout := cfg.TimeoutSeconds
	if timeout < 1 {
		timeout = DefaultAITimeoutSecs
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &AIResult{Success: false, Error: "failed to build AI request: " + err.Error(), ProcessingTimeMs: time.Since(started).Milliseconds()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthRequired && cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		elapsed := time.Since(started).Milliseconds()
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			log.Warn("AI call timed out", "timeout_seconds", timeout)
			return &AIResult{Success: false, Error: fmt.Sprintf("AI service timeout after %ds", timeout), ProcessingTimeMs: elapsed}
		}
		log.Warn("AI call failed", "error", err)
		return &AIResult{Success: false, Error: "AI service unreachable: " + err.Error(), ProcessingTimeMs: elapsed}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	elapsed := time.Since(started).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > 100 {
			snippet = snippet[:100]
		}
		log.Warn("AI returned error status", "status", resp.StatusCode)
		return &AIResult{
			Success:          false,
			Error:            fmt.Sprintf("AI service returned %d: %s", resp.StatusCode, snippet),
			ProcessingTimeMs: elapsed,
		}
	}

	var parsed aiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &AIResult{Success: false, Error: "invalid AI response: " + err.Error(), ProcessingTimeMs: elapsed}
	}

	log.Debug("AI call completed", "action", parsed.Action, "elapsed_ms", elapsed)
	return &AIResult{
		Success:          true,
		Action:           parsed.Action,
		Data:             parsed.Data,
		ProcessingTimeMs: elapsed,
	}
}
