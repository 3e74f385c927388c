// Package agent 实现对话编排循环：反复调用模型、按模型要求执行工具并回填结果，
// 直到得到最终回答或进入终止状态。
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/IntervAgent/internal/config"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

const (
	DefaultMaxIterations = 10
	DefaultModelRetries  = 3
)

// Exchange 为一次用户消息的处理结果。Conversation 总是包含到终止为止的全部消息。
type Exchange struct {
	TraceID      string
	Conversation Conversation
	Answer       string
	Rounds       int
}

// Orchestrator 驱动一次交互的有界循环。多个 goroutine 可共享同一个 Orchestrator，
// 每次 HandleUserMessage 使用独立的对话副本。
type Orchestrator struct {
	gateway    ModelGateway
	dispatcher *tools.Dispatcher
	observer   Observer

	maxIterations int
	modelRetries  int
	retryBackoff  time.Duration
	maxBackoff    time.Duration
	modelTimeout  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithModelRetries 设置模型调用失败后的重试次数（不含首次调用）。
func WithModelRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.modelRetries = n
		}
	}
}

func WithBackoff(base, limit time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryBackoff = base
		o.maxBackoff = limit
	}
}

// WithModelTimeout 设置单次模型调用的超时。
func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.modelTimeout = d }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// OptionsFromConfig 把配置转换为 Option。
func OptionsFromConfig(agentCfg config.AgentConfig, modelCfg config.ModelConfig) []Option {
	return []Option{
		WithMaxIterations(agentCfg.MaxIterations),
		WithModelRetries(agentCfg.ModelRetries),
		WithBackoff(agentCfg.RetryBackoff, agentCfg.MaxBackoff),
		WithModelTimeout(modelCfg.Timeout),
	}
}

func NewOrchestrator(gateway ModelGateway, dispatcher *tools.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:       gateway,
		dispatcher:    dispatcher,
		maxIterations: DefaultMaxIterations,
		modelRetries:  DefaultModelRetries,
		retryBackoff:  500 * time.Millisecond,
		maxBackoff:    8 * time.Second,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleUserMessage 处理一条用户消息。返回的 Exchange 总是非 nil；
// error 非 nil 时为 *TerminalError，Exchange.Conversation 保留到终止为止的部分对话。
func (o *Orchestrator) HandleUserMessage(ctx context.Context, history Conversation, text string) (*Exchange, error) {
	ex := &Exchange{TraceID: uuid.NewString()}
	ctx = tools.WithTraceID(ctx, ex.TraceID)
	logger := log.With().Str("trace_id", ex.TraceID).Logger()

	conv := history.Clone()
	conv.Append(UserMessage(text))
	ex.Conversation = conv

	descs := o.dispatcher.Registry().Schemas()

	for round := 1; round <= o.maxIterations; round++ {
		// 取消只在两轮之间生效
		if err := ctx.Err(); err != nil {
			return ex, o.terminate(ex, KindCancelled, err)
		}
		o.emit(Event{Kind: EventRoundStarted, TraceID: ex.TraceID, Round: round})

		resp, err := o.callModel(ctx, ex, round, ex.Conversation, descs)
		if err != nil {
			if ctx.Err() != nil {
				return ex, o.terminate(ex, KindCancelled, ctx.Err())
			}
			return ex, o.terminate(ex, KindModelUnavailable, err)
		}
		ex.Rounds = round

		calls := normalizeCallIDs(resp.Calls, round)
		ex.Conversation.Append(AssistantMessage(resp.Text, calls))
		if len(calls) == 0 {
			ex.Answer = resp.Text
			logger.Info().Int("rounds", round).Msg("exchange finished")
			o.emit(Event{Kind: EventTerminated, TraceID: ex.TraceID, Round: round})
			return ex, nil
		}

		logger.Debug().Int("round", round).Int("tool_calls", len(calls)).Msg("dispatching tool calls")
		// 同一轮的调用按模型给出的顺序依次执行，每个调用都得到一个结果后才进入下一轮
		for i := range calls {
			call := calls[i]
			o.emit(Event{Kind: EventToolInvoked, TraceID: ex.TraceID, Round: round, Call: &call})
			res := o.dispatcher.Invoke(ctx, call)
			ex.Conversation.Append(ToolResultMessage(res))
			o.emit(Event{Kind: EventToolCompleted, TraceID: ex.TraceID, Round: round, Call: &call, Result: &res})
		}
	}

	return ex, o.terminate(ex, KindMaxIterationsExceeded, nil)
}

// callModel 调用模型，失败时按退避策略重试 modelRetries 次。
func (o *Orchestrator) callModel(ctx context.Context, ex *Exchange, round int, conv Conversation, descs []tools.Descriptor) (ModelResponse, error) {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if o.modelTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, o.modelTimeout)
		}
		resp, err := o.gateway.Send(callCtx, conv, descs)
		cancel()
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return ModelResponse{}, ctx.Err()
		}

		gerr := asGatewayError(err)
		if attempt >= o.modelRetries {
			return ModelResponse{}, gerr
		}

		delay := retryDelay(gerr, attempt, o.retryBackoff, o.maxBackoff)
		log.Warn().
			Str("trace_id", ex.TraceID).
			Int("round", round).
			Int("attempt", attempt+1).
			Str("kind", string(gerr.Kind)).
			Dur("delay", delay).
			Err(gerr.Err).
			Msg("retrying model call")
		o.emit(Event{Kind: EventModelRetry, TraceID: ex.TraceID, Round: round, Attempt: attempt + 1, Delay: delay, Err: gerr})

		if err := o.sleep(ctx, delay); err != nil {
			return ModelResponse{}, err
		}
	}
}

func (o *Orchestrator) terminate(ex *Exchange, kind TerminalKind, cause error) *TerminalError {
	terr := &TerminalError{Kind: kind, Rounds: ex.Rounds, Err: cause}
	if kind == KindCancelled && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
		terr.Err = nil
	}
	log.Warn().Str("trace_id", ex.TraceID).Str("kind", string(kind)).Int("rounds", ex.Rounds).Err(cause).Msg("exchange terminated")
	o.emit(Event{Kind: EventTerminated, TraceID: ex.TraceID, Round: ex.Rounds, Terminal: terr})
	return terr
}

func (o *Orchestrator) emit(e Event) {
	if o.observer != nil {
		o.observer.OnEvent(e)
	}
}

// normalizeCallIDs 为缺失或重复的调用 ID 分配新的 ID，保证同一轮内唯一。
func normalizeCallIDs(calls []tools.Call, round int) []tools.Call {
	if len(calls) == 0 {
		return nil
	}
	out := make([]tools.Call, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for i, c := range calls {
		if _, dup := seen[c.ID]; c.ID == "" || dup {
			c.ID = fmt.Sprintf("call_r%d_%d", round, i+1)
			for n := 2; ; n++ {
				if _, taken := seen[c.ID]; !taken {
					break
				}
				c.ID = fmt.Sprintf("call_r%d_%d_%d", round, i+1, n)
			}
		}
		seen[c.ID] = struct{}{}
		out[i] = c
	}
	return out
}
