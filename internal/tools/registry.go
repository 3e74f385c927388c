// Package tools 实现 Agent 可调用的工具目录、参数校验与调度执行。
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrToolNotFound    = errors.New("tool not found")
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrUnknownToolName = errors.New("unknown tool name")
)

// Handler 执行一次工具调用。args 已通过 Schema 校验。
type Handler interface {
	Handle(ctx context.Context, env *Env, args json.RawMessage) (any, error)
}

// HandlerFunc 让普通函数实现 Handler。
type HandlerFunc func(ctx context.Context, env *Env, args json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, env *Env, args json.RawMessage) (any, error) {
	return f(ctx, env, args)
}

// Descriptor 描述一个工具，构造后只读。
type Descriptor struct {
	Name    Name
	Purpose string
	Args    []ArgSpec
	Handler Handler
	// Timeout 为该工具的默认超时，0 表示使用调度器的默认值。
	Timeout time.Duration
	// ScansExternalText 为 true 时，结果中的外部文本会经过注入检测。
	ScansExternalText bool
	// Batch 表示返回 BatchPayload（逐目标成功/失败）。
	Batch bool
}

// ToolInfo 生成传给 eino 模型的工具定义。
func (d Descriptor) ToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        string(d.Name),
		Desc:        d.Purpose,
		ParamsOneOf: schema.NewParamsOneOfByParams(EinoParams(d.Args)),
	}
}

// JSONSchema 返回参数的 JSON Schema（OpenAI 兼容接口直接使用）。
func (d Descriptor) JSONSchema() map[string]any {
	return JSONSchema(d.Args)
}

type entry struct {
	desc   Descriptor
	schema *gojsonschema.Schema
}

// Registry 为固定的工具目录。注册只发生在启动阶段，之后只读，可并发读取。
type Registry struct {
	entries map[Name]*entry
}

// NewRegistry 注册给定的工具，任何配置错误都会返回。
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{entries: make(map[Name]*entry, len(descs))}
	for _, d := range descs {
		if err := r.register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNewRegistry 与 NewRegistry 相同，出错时 panic，仅用于启动阶段。
func MustNewRegistry(descs ...Descriptor) *Registry {
	r, err := NewRegistry(descs...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) register(d Descriptor) error {
	if !d.Name.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownToolName, d.Name)
	}
	if _, exists := r.entries[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, d.Name)
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s: handler is nil", d.Name)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.JSONSchema()))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", d.Name, err)
	}
	r.entries[d.Name] = &entry{desc: d, schema: s}
	return nil
}

// Lookup 按名字查找工具。
func (r *Registry) Lookup(name string) (Descriptor, error) {
	e, ok := r.entries[Name(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.desc, nil
}

// Schemas 返回按名字排序的全部工具描述。
func (r *Registry) Schemas() []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToolInfos 把工具描述转换为 eino 格式，顺序不变。
func ToolInfos(descs []Descriptor) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.ToolInfo())
	}
	return out
}

func (r *Registry) validator(name Name) *gojsonschema.Schema {
	if e, ok := r.entries[name]; ok {
		return e.schema
	}
	return nil
}
