package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/xeipuuv/gojsonschema"
)

const defaultToolTimeout = 30 * time.Second

// Dispatcher 执行单个工具调用：查找、参数校验、隔离执行、超时、注入检测，
// 最后把一切结果（包括失败）归一化为 Result。Invoke 从不返回 error。
type Dispatcher struct {
	registry       *Registry
	env            *Env
	auditor        Auditor
	defaultTimeout time.Duration
	timeouts       map[string]time.Duration
}

type DispatcherOption func(*Dispatcher)

// WithAuditor 为每次调用写审计记录。
func WithAuditor(a Auditor) DispatcherOption {
	return func(d *Dispatcher) { d.auditor = a }
}

// WithTimeouts 设置默认超时和按工具名覆盖的超时。覆盖项优先于工具自带的超时。
func WithTimeouts(def time.Duration, overrides map[string]time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if def > 0 {
			d.defaultTimeout = def
		}
		d.timeouts = overrides
	}
}

func NewDispatcher(reg *Registry, env *Env, opts ...DispatcherOption) *Dispatcher {
	if env == nil {
		env = &Env{}
	}
	if env.Detector == nil {
		env.Detector = injection.NewDetector(nil)
	}
	d := &Dispatcher{
		registry:       reg,
		env:            env,
		defaultTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Timeout 返回工具实际使用的超时。
func (d *Dispatcher) Timeout(desc Descriptor) time.Duration {
	if t, ok := d.timeouts[string(desc.Name)]; ok && t > 0 {
		return t
	}
	if desc.Timeout > 0 {
		return desc.Timeout
	}
	return d.defaultTimeout
}

// Invoke 执行一次调用。
func (d *Dispatcher) Invoke(ctx context.Context, call Call) Result {
	call.Arguments = normalizeArguments(call.Arguments)
	// 审计写入与工具执行一样不随调用方取消中断
	auditCtx := context.WithoutCancel(ctx)

	desc, err := d.registry.Lookup(call.Name)
	if err != nil {
		res := failureResult(call, KindToolNotFound, "unknown tool %q", call.Name)
		d.audit(auditCtx, call, res)
		return res
	}

	if msg := d.validate(desc.Name, call.Arguments); msg != "" {
		res := failureResult(call, KindInvalidArguments, "%s", msg)
		d.audit(auditCtx, call, res)
		return res
	}

	var token uint64
	if d.auditor != nil {
		token = d.auditor.Begin(auditCtx, call)
	}

	start := time.Now()
	res := d.run(ctx, desc, call)
	if res.OK() && desc.ScansExternalText {
		assessment := d.env.Detector.Scan(externalText(res.Payload))
		res.Risk = &assessment
	}

	ev := log.Debug()
	if !res.OK() {
		ev = log.Warn().Str("error_kind", string(res.Failure.Kind)).Str("error", res.Failure.Message)
	}
	if res.Risk != nil {
		ev = ev.Str("risk", res.Risk.Level.String())
	}
	ev.Str("tool", call.Name).Str("call_id", call.ID).Dur("elapsed", time.Since(start)).Msg("tool call finished")

	if d.auditor != nil {
		d.auditor.Finish(auditCtx, token, res)
	}
	return res
}

// audit 记录在执行前就失败的调用。
func (d *Dispatcher) audit(ctx context.Context, call Call, res Result) {
	log.Warn().Str("tool", call.Name).Str("call_id", call.ID).Str("error_kind", string(res.Failure.Kind)).Msg(res.Failure.Message)
	if d.auditor == nil {
		return
	}
	d.auditor.Finish(ctx, d.auditor.Begin(ctx, call), res)
}

type outcome struct {
	payload any
	err     error
}

func (d *Dispatcher) run(ctx context.Context, desc Descriptor, call Call) Result {
	// 工具一旦开始就不受调用方取消的影响，取消只在两轮之间生效；超时仍然有效。
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.Timeout(desc))
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("tool", call.Name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("tool handler panicked")
				done <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		payload, err := desc.Handler.Handle(runCtx, d.env, call.Arguments)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err == nil:
			return successResult(call, out.payload)
		case errors.Is(out.err, ErrInvalidArguments):
			return failureResult(call, KindInvalidArguments, "%s", out.err.Error())
		case errors.Is(out.err, context.DeadlineExceeded):
			return failureResult(call, KindExecutionError, "timeout")
		default:
			return failureResult(call, KindExecutionError, "%s", out.err.Error())
		}
	case <-runCtx.Done():
		return failureResult(call, KindExecutionError, "timeout")
	}
}

func (d *Dispatcher) validate(name Name, args json.RawMessage) string {
	if !json.Valid(args) {
		return "arguments are not valid JSON"
	}
	s := d.registry.validator(name)
	if s == nil {
		return ""
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Sprintf("arguments could not be validated: %v", err)
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("field %q: %s", fieldName(e), e.Description()))
	}
	return strings.Join(msgs, "; ")
}

// fieldName 返回出错字段的路径。缺少必填字段时 gojsonschema 报告的是父对象，需要拼上属性名。
func fieldName(e gojsonschema.ResultError) string {
	field := e.Field()
	if e.Type() == "required" {
		if prop, ok := e.Details()["property"].(string); ok {
			if field == "" || field == "(root)" {
				return prop
			}
			return field + "." + prop
		}
	}
	return field
}

// normalizeArguments 把模型常见的空参数（""、"{"、null）视为 {}。
func normalizeArguments(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	switch string(trimmed) {
	case "", "{", "null":
		return json.RawMessage("{}")
	}
	return trimmed
}

func externalText(payload any) string {
	if t, ok := payload.(ExternalTexter); ok {
		return t.ExternalText()
	}
	if s, ok := payload.(string); ok {
		return s
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(data)
}
