package tools

import (
	"sort"

	"github.com/cloudwego/eino/schema"
)

// ArgType 为参数的 JSON 类型。
type ArgType string

const (
	TypeString  ArgType = "string"
	TypeInteger ArgType = "integer"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
	TypeArray   ArgType = "array"
	TypeObject  ArgType = "object"
)

// ArgSpec 描述一个参数。它同时生成校验用的 JSON Schema 与发给模型的工具定义。
type ArgSpec struct {
	Name     string
	Type     ArgType
	Desc     string
	Required bool
	// Items 为数组元素的描述（Type=array 时必填）。
	Items *ArgSpec
	// Fields 为对象的字段（Type=object 时使用）。
	Fields []ArgSpec
	Enum   []string
	// Minimum/Maximum 约束数值范围，MinItems 约束数组长度，均为可选。
	Minimum  *float64
	Maximum  *float64
	MinItems int
}

func bound(v float64) *float64 { return &v }

// JSONSchema 生成对象形式的参数 Schema。
func JSONSchema(args []ArgSpec) map[string]any {
	props := make(map[string]any, len(args))
	var required []string
	for _, a := range args {
		props[a.Name] = a.jsonSchema()
		if a.Required {
			required = append(required, a.Name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		sort.Strings(required)
		out["required"] = required
	}
	return out
}

func (a ArgSpec) jsonSchema() map[string]any {
	if a.Type == TypeObject {
		s := JSONSchema(a.Fields)
		if a.Desc != "" {
			s["description"] = a.Desc
		}
		return s
	}

	s := map[string]any{"type": string(a.Type)}
	if a.Desc != "" {
		s["description"] = a.Desc
	}
	if len(a.Enum) > 0 {
		s["enum"] = a.Enum
	}
	if a.Minimum != nil {
		s["minimum"] = *a.Minimum
	}
	if a.Maximum != nil {
		s["maximum"] = *a.Maximum
	}
	if a.Type == TypeArray {
		if a.Items != nil {
			s["items"] = a.Items.jsonSchema()
		}
		if a.MinItems > 0 {
			s["minItems"] = a.MinItems
		}
	}
	return s
}

// EinoParams 把参数描述转换为 eino 的 ParameterInfo。
func EinoParams(args []ArgSpec) map[string]*schema.ParameterInfo {
	out := make(map[string]*schema.ParameterInfo, len(args))
	for _, a := range args {
		out[a.Name] = a.einoParam()
	}
	return out
}

func (a ArgSpec) einoParam() *schema.ParameterInfo {
	p := &schema.ParameterInfo{
		Type:     einoType(a.Type),
		Desc:     a.Desc,
		Required: a.Required,
		Enum:     a.Enum,
	}
	if a.Items != nil {
		p.ElemInfo = a.Items.einoParam()
	}
	if len(a.Fields) > 0 {
		p.SubParams = EinoParams(a.Fields)
	}
	return p
}

func einoType(t ArgType) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	case TypeNumber:
		return schema.Number
	case TypeBoolean:
		return schema.Boolean
	case TypeArray:
		return schema.Array
	case TypeObject:
		return schema.Object
	default:
		return schema.String
	}
}
