package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/wwwzy/IntervAgent/internal/config"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

// OpenAIGateway 对接任意 OpenAI 兼容的 Chat Completions 端点（例如 DashScope 的兼容模式）。
type OpenAIGateway struct {
	client      *go_openai.Client
	model       string
	temperature float32
	maxTokens   int
	template    prompt.ChatTemplate
}

func NewOpenAIGateway(cfg config.ModelConfig) *OpenAIGateway {
	clientCfg := go_openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Transport: retryAfterTransport{base: http.DefaultTransport}}
	return &OpenAIGateway{
		client:      go_openai.NewClientWithConfig(clientCfg),
		model:       cfg.ModelID,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		template:    NewChatTemplate(),
	}
}

func (g *OpenAIGateway) Send(ctx context.Context, conv Conversation, descs []tools.Descriptor) (ModelResponse, error) {
	// 系统提示词与 Ark 网关共用同一个模板
	rendered, err := renderMessages(ctx, g.template, nil)
	if err != nil {
		return ModelResponse{}, err
	}

	msgs := make([]go_openai.ChatCompletionMessage, 0, len(conv.Turns)+len(rendered))
	for _, m := range rendered {
		msgs = append(msgs, go_openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, toOpenAIMessages(conv)...)

	req := go_openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}
	if len(descs) > 0 {
		for _, d := range descs {
			req.Tools = append(req.Tools, go_openai.Tool{
				Type: go_openai.ToolTypeFunction,
				Function: &go_openai.FunctionDefinition{
					Name:        string(d.Name),
					Description: d.Purpose,
					Parameters:  d.JSONSchema(),
				},
			})
		}
		req.ToolChoice = "auto"
	}

	log.Debug().Str("model", g.model).Int("messages", len(msgs)).Int("tools", len(req.Tools)).Msg("OpenAI request")
	var retryAfter time.Duration
	resp, err := g.client.CreateChatCompletion(context.WithValue(ctx, retryAfterKey{}, &retryAfter), req)
	if err != nil {
		gerr := classifyOpenAIError(err)
		if gerr.Kind == RateLimited {
			gerr.RetryAfter = retryAfter
		}
		return ModelResponse{}, gerr
	}
	if len(resp.Choices) == 0 {
		return ModelResponse{}, malformed("response contains no choices")
	}

	msg := resp.Choices[0].Message
	out := ModelResponse{Text: msg.Content}
	for i, tc := range msg.ToolCalls {
		if strings.TrimSpace(tc.Function.Name) == "" {
			return ModelResponse{}, malformed("tool call #%d has no function name", i)
		}
		out.Calls = append(out.Calls, tools.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if out.Final() && strings.TrimSpace(out.Text) == "" {
		return ModelResponse{}, malformed("response has neither content nor tool calls")
	}
	return out, nil
}

func toOpenAIMessages(conv Conversation) []go_openai.ChatCompletionMessage {
	out := make([]go_openai.ChatCompletionMessage, 0, len(conv.Turns))
	for _, t := range conv.Turns {
		switch t.Role {
		case RoleUser:
			out = append(out, go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleUser, Content: t.Text})
		case RoleAssistant:
			msg := go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleAssistant, Content: t.Text}
			for _, c := range t.Calls {
				msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
					ID:   c.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      c.Name,
						Arguments: string(c.Arguments),
					},
				})
			}
			out = append(out, msg)
		case RoleTool:
			if t.Result != nil {
				out = append(out, go_openai.ChatCompletionMessage{
					Role:       go_openai.ChatMessageRoleTool,
					Content:    t.Result.Content(),
					ToolCallID: t.Result.CallID,
				})
			}
		}
	}
	return out
}

func classifyOpenAIError(err error) *GatewayError {
	status := 0
	var apiErr *go_openai.APIError
	var reqErr *go_openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return &GatewayError{Kind: RateLimited, Err: err}
	}
	if status != 0 {
		return &GatewayError{Kind: Unavailable, Err: fmt.Errorf("http %d: %w", status, err)}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &GatewayError{Kind: MalformedResponse, Err: err}
	}
	return &GatewayError{Kind: Unavailable, Err: err}
}

type retryAfterKey struct{}

// retryAfterTransport 在 429 响应上读取 Retry-After 头，写入请求上下文中的 *time.Duration。
// go-openai 的错误类型不带响应头。
type retryAfterTransport struct {
	base http.RoundTripper
}

func (t retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if slot, ok := req.Context().Value(retryAfterKey{}).(*time.Duration); ok {
		*slot = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return resp, nil
}

// parseRetryAfter 支持秒数与 HTTP 日期两种格式，无法解析时返回 0。
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
