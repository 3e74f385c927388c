package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/IntervAgent/internal/config"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

// ArkGateway 通过 eino 的 ToolCallingChatModel（默认火山方舟 Ark）调用模型。
type ArkGateway struct {
	chatModel model.ToolCallingChatModel
	template  prompt.ChatTemplate
}

// NewArkGateway 初始化 Ark ChatModel
func NewArkGateway(ctx context.Context, cfg config.ModelConfig) (*ArkGateway, error) {
	if cfg.APIKey == "" || cfg.ModelID == "" {
		return nil, fmt.Errorf("ark api key and model id must be set")
	}

	arkCfg := &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.ModelID,
		BaseURL: cfg.BaseURL,
	}
	if cfg.Temperature > 0 {
		temperature := cfg.Temperature
		arkCfg.Temperature = &temperature
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		arkCfg.MaxTokens = &maxTokens
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		arkCfg.Timeout = &timeout
	}
	// 重试由编排器负责
	retries := 0
	arkCfg.RetryTimes = &retries

	chatModel, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, err
	}
	return NewEinoGateway(chatModel), nil
}

// NewEinoGateway 使用任意 eino ToolCallingChatModel 创建网关。
func NewEinoGateway(chatModel model.ToolCallingChatModel) *ArkGateway {
	return &ArkGateway{chatModel: chatModel, template: NewChatTemplate()}
}

func (g *ArkGateway) Send(ctx context.Context, conv Conversation, descs []tools.Descriptor) (ModelResponse, error) {
	cm, err := g.chatModel.WithTools(tools.ToolInfos(descs))
	if err != nil {
		return ModelResponse{}, fmt.Errorf("bind tools to chat model failed: %w", err)
	}

	messages, err := renderMessages(ctx, g.template, toEinoMessages(conv))
	if err != nil {
		return ModelResponse{}, err
	}

	// 使用 Generate 而不是 Stream，需要完整的 ToolCalls 信息
	aiMsg, err := cm.Generate(ctx, messages)
	if err != nil {
		return ModelResponse{}, classifyEinoError(err)
	}
	if aiMsg == nil {
		return ModelResponse{}, malformed("chat model returned no message")
	}

	log.Debug().Int("tool_calls", len(aiMsg.ToolCalls)).Int("content_len", len(aiMsg.Content)).Msg("chat model responded")
	return fromEinoMessage(aiMsg)
}

func fromEinoMessage(msg *schema.Message) (ModelResponse, error) {
	resp := ModelResponse{Text: msg.Content}
	for i, tc := range msg.ToolCalls {
		if strings.TrimSpace(tc.Function.Name) == "" {
			return ModelResponse{}, malformed("tool call #%d has no function name", i)
		}
		resp.Calls = append(resp.Calls, tools.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if resp.Final() && strings.TrimSpace(resp.Text) == "" {
		return ModelResponse{}, malformed("response has neither content nor tool calls")
	}
	return resp, nil
}

// classifyEinoError 根据错误信息判断是否为限流。Ark SDK 的错误类型不在依赖范围内，只能按文本匹配。
func classifyEinoError(err error) *GatewayError {
	if errors.Is(err, context.Canceled) {
		return &GatewayError{Kind: Unavailable, Err: err}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "too many requests", "ratelimit", "rate limit", "toomanyrequests"} {
		if strings.Contains(msg, marker) {
			return &GatewayError{Kind: RateLimited, Err: err}
		}
	}
	return &GatewayError{Kind: Unavailable, Err: err}
}
