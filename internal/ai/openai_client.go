package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>\s*`)
	codeBlock  = regexp.MustCompile("(?s)```.*?```")
)

type OpenAIClient struct {
	client     *openai.Client
	model      string
	forecaster Forecaster
	logger     *zap.Logger
	now        func() time.Time
}

// NewOpenAIClient works against any OpenAI-compatible endpoint (OpenAI, Ollama, vLLM).
// An empty baseURL means the public OpenAI API.
func NewOpenAIClient(apiKey, baseURL, model string, logger *zap.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.Named("ai"),
		now:    time.Now,
	}
}

// WithForecaster lets the model fetch predictions as tool calls.
func (c *OpenAIClient) WithForecaster(f Forecaster) *OpenAIClient {
	c.forecaster = f
	return c
}

func (c *OpenAIClient) Respond(ctx context.Context, req Request) (string, error) {
	tools := c.forecaster != nil

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: buildSystem(req, c.now(), tools),
	})
	for _, m := range req.History {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Text,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserText,
	})

	started := time.Now()
	for round := 0; ; round++ {
		creq := openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: msgs,
		}
		// the last round gets no tools so the model has to answer
		if tools && round < maxToolRounds {
			creq.Tools = predictionTools()
			creq.ToolChoice = "auto"
		}

		resp, err := c.client.CreateChatCompletion(ctx, creq)
		if err != nil {
			ierr := classify(ctx, err)
			c.logger.Warn("completion failed",
				zap.Stringer("kind", ierr.Kind),
				zap.Int("round", round),
				zap.Duration("took", time.Since(started)),
				zap.Error(err),
			)
			return "", ierr
		}
		if len(resp.Choices) == 0 {
			return "", &InferenceError{Kind: Permanent, Err: errors.New("empty choices")}
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) > 0 && creq.Tools != nil {
			msgs = append(msgs, msg)
			for _, call := range msg.ToolCalls {
				out, err := c.runTool(ctx, call, req.Profile)
				if err != nil {
					return "", classify(ctx, err)
				}
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    out,
					Name:       call.Function.Name,
					ToolCallID: call.ID,
				})
			}
			continue
		}

		reply := cleanReply(msg.Content)
		if reply == "" {
			return "", &InferenceError{Kind: Permanent, Err: errors.New("empty reply after cleanup")}
		}

		c.logger.Debug("completion ok",
			zap.Int("rounds", round+1),
			zap.Duration("took", time.Since(started)),
			zap.Int("total_tokens", resp.Usage.TotalTokens),
		)
		return reply, nil
	}
}

// cleanReply drops model reasoning and stray code blocks.
func cleanReply(raw string) string {
	out := thinkBlock.ReplaceAllString(raw, "")
	out = codeBlock.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func classify(ctx context.Context, err error) *InferenceError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &InferenceError{Kind: Transient, Err: err}
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status != 0 {
		return &InferenceError{Kind: kindForStatus(status), Err: fmt.Errorf("status %d: %w", status, err)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &InferenceError{Kind: Transient, Err: err}
	}
	// no status and not a network error: the request never made sense
	return &InferenceError{Kind: Permanent, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status >= 500,
		status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests:
		return Transient
	default:
		return Permanent
	}
}
