package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wwwzy/IntervAgent/internal/config"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

// ModelResponse 为模型的一次回复：Calls 为空表示最终回答。
type ModelResponse struct {
	Text  string
	Calls []tools.Call
}

func (r ModelResponse) Final() bool { return len(r.Calls) == 0 }

// ModelGateway 为对话模型服务。
type ModelGateway interface {
	Send(ctx context.Context, conv Conversation, descs []tools.Descriptor) (ModelResponse, error)
}

type GatewayErrorKind string

const (
	Unavailable       GatewayErrorKind = "Unavailable"
	RateLimited       GatewayErrorKind = "RateLimited"
	MalformedResponse GatewayErrorKind = "MalformedResponse"
)

// GatewayError 为网关返回的分类错误，三类错误都会被编排器重试。
type GatewayError struct {
	Kind GatewayErrorKind
	// RetryAfter 为服务端建议的等待时间（仅 RateLimited）。
	RetryAfter time.Duration
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func malformed(format string, args ...any) *GatewayError {
	return &GatewayError{Kind: MalformedResponse, Err: fmt.Errorf(format, args...)}
}

// asGatewayError 把任意错误归类；未分类的错误视为 Unavailable。
func asGatewayError(err error) *GatewayError {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}
	return &GatewayError{Kind: Unavailable, Err: err}
}

// NewGateway 按 model.provider 创建网关。
func NewGateway(ctx context.Context, cfg config.ModelConfig) (ModelGateway, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		return NewArkGateway(ctx, cfg)
	case config.ProviderOpenAI, "":
		return NewOpenAIGateway(cfg), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
