// Package injection 对外部文本（报名资料、邮件附件等）做提示词注入风险评估。
//
// 评估是纯函数：同一策略下同一输入总是得到同一结果；风险等级取所有命中规则
// 的最高严重度，因此向文本追加内容只可能让等级上升。
package injection

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Assessment 为一次扫描的结果。
type Assessment struct {
	Level      Level    `json:"level"`
	Indicators []string `json:"indicators"`
	Rationale  string   `json:"rationale"`
}

// Detector 持有当前策略。Scan 可并发调用；SetPolicy 原子替换策略。
type Detector struct {
	policy atomic.Pointer[Policy]
}

// NewDetector 使用给定策略创建 Detector，p 为 nil 时使用内置规则。
func NewDetector(p *Policy) *Detector {
	if p == nil {
		p = DefaultPolicy()
	}
	d := &Detector{}
	d.policy.Store(p)
	return d
}

func (d *Detector) Policy() *Policy {
	return d.policy.Load()
}

func (d *Detector) SetPolicy(p *Policy) {
	if p == nil {
		return
	}
	d.policy.Store(p)
}

// Scan 评估 text 的注入风险。
func (d *Detector) Scan(text string) Assessment {
	p := d.policy.Load()
	normalized := Normalize(text)

	level := LevelLow
	var names []string
	severity := make(map[string]Level)
	for i := range p.Indicators {
		ind := &p.Indicators[i]
		if !ind.matches(normalized) {
			continue
		}
		names = append(names, ind.Name)
		severity[ind.Name] = ind.Severity
		if ind.Severity > level {
			level = ind.Severity
		}
	}
	sort.Strings(names)

	return Assessment{
		Level:      level,
		Indicators: names,
		Rationale:  rationale(names, severity),
	}
}

func rationale(names []string, severity map[string]Level) string {
	if len(names) == 0 {
		return "no injection indicators matched"
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s(%s)", n, severity[n]))
	}
	return fmt.Sprintf("matched %d indicator(s): %s", len(names), strings.Join(parts, ", "))
}

// Normalize 把文本转成规则匹配用的形式：NFKC 归一化（全角转半角等）、去除零宽字符、
// 转小写并把连续空白折叠为单个空格。
func Normalize(text string) string {
	s := norm.NFKC.String(text)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}
