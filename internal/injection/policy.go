package injection

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Level 为注入风险等级，数值越大风险越高。
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "HIGH"
	case LevelMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParseLevel 解析 LOW/MEDIUM/HIGH（大小写不敏感）。
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return LevelLow, nil
	case "MEDIUM":
		return LevelMedium, nil
	case "HIGH":
		return LevelHigh, nil
	}
	return LevelLow, fmt.Errorf("unknown risk level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func (l *Level) UnmarshalYAML(node *yaml.Node) error {
	return l.UnmarshalText([]byte(node.Value))
}

// Indicator 为一条检测规则：Patterns 中任一正则命中即视为命中该规则。
// 正则作用于归一化后的文本（NFKC、小写、空白折叠），因此应使用小写书写。
type Indicator struct {
	Name        string   `yaml:"name"`
	Severity    Level    `yaml:"severity"`
	Description string   `yaml:"description"`
	Patterns    []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// Policy 为一组检测规则，编译后只读，可在多个 goroutine 间共享。
type Policy struct {
	Version    string      `yaml:"version"`
	Indicators []Indicator `yaml:"indicators"`
}

// ParsePolicy 解析并编译 YAML 规则。
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse injection policy: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicyFile 从文件加载规则。
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read injection policy: %w", err)
	}
	return ParsePolicy(data)
}

func (p *Policy) compile() error {
	if len(p.Indicators) == 0 {
		return fmt.Errorf("injection policy has no indicators")
	}
	seen := make(map[string]struct{}, len(p.Indicators))
	for i := range p.Indicators {
		ind := &p.Indicators[i]
		if ind.Name == "" {
			return fmt.Errorf("indicator #%d: name is required", i)
		}
		if _, dup := seen[ind.Name]; dup {
			return fmt.Errorf("indicator %q: duplicate name", ind.Name)
		}
		seen[ind.Name] = struct{}{}
		if ind.Severity < LevelLow || ind.Severity > LevelHigh {
			return fmt.Errorf("indicator %q: invalid severity", ind.Name)
		}
		if len(ind.Patterns) == 0 {
			return fmt.Errorf("indicator %q: at least one pattern is required", ind.Name)
		}
		ind.compiled = ind.compiled[:0]
		for _, pat := range ind.Patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return fmt.Errorf("indicator %q: compile %q: %w", ind.Name, pat, err)
			}
			ind.compiled = append(ind.compiled, re)
		}
	}
	return nil
}

func (ind *Indicator) matches(normalized string) bool {
	for _, re := range ind.compiled {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// DefaultPolicy 返回内置规则（中英文）。
func DefaultPolicy() *Policy {
	p, err := ParsePolicy([]byte(defaultPolicyYAML))
	if err != nil {
		panic(fmt.Sprintf("built-in injection policy is invalid: %v", err))
	}
	return p
}

const defaultPolicyYAML = `
version: "builtin-1"
indicators:
  - name: ignore_previous_instructions
    severity: HIGH
    description: 要求忽略或覆盖先前的指令
    patterns:
      - '\b(ignore|disregard|forget|override|bypass)\s+(all\s+|any\s+|the\s+|your\s+)*(previous|prior|above|earlier|preceding|original|system)\s+(instructions?|prompts?|rules?|directions?|guidelines?)'
      - '(忽略|无视|忘记|忘掉|不要理会)(掉)?(之前|以上|上面|前面|先前|原来|所有|全部)(的)?(所有|全部)?(指令|指示|规则|要求|提示|设定)'

  - name: role_reassignment
    severity: HIGH
    description: 试图重新指定助手的身份或角色
    patterns:
      - '\byou\s+are\s+now\s+(a|an|the|in|my)\b'
      - '\bfrom\s+now\s+on,?\s+you\s+(are|will|must|should)\b'
      - '\b(act|behave)\s+as\s+(a|an|the)?\s*(system|admin|administrator|developer|root|unrestricted)'
      - '\bpretend\s+(to\s+be|you\s+are)\b'
      - '你现在(是|扮演|的身份是)'
      - '从现在(开始|起)[，,]?\s*你(是|要|必须|将)'
      - '(扮演|充当|假装是)(一个|一名)?(系统|管理员|开发者|不受限制)'

  - name: system_authority_claim
    severity: HIGH
    description: 冒充系统或管理员发布指令
    patterns:
      - '(^|[\s\[<(])(system|admin|administrator|developer)\s*(prompt|message|override|instruction|notice)s?\s*[:\]>)]'
      - '<\|?\s*(system|im_start)'
      - '\bnew\s+system\s+prompt\b'
      - '\b(developer|god|jailbreak)\s+mode\b'
      - '(系统|管理员)(指令|提示|消息|通知|命令)\s*[:：\]]'

  - name: credential_exfiltration
    severity: HIGH
    description: 索取凭据、密钥或系统提示词
    patterns:
      - '\b(reveal|show|print|send|give|leak|expose|output|share|dump|tell)\s+(me\s+|us\s+)?(the\s+|all\s+|your\s+|any\s+)*(admin\s+|administrator\s+|system\s+|root\s+|database\s+|smtp\s+|email\s+)?(credentials?|passwords?|api[\s_-]?keys?|secrets?|tokens?|system\s+prompt)\b'
      - '(泄露|透露|告诉我|发给我|发送|输出|给我|显示|打印)(.{0,12})(密码|凭据|凭证|密钥|口令|令牌|系统提示)'

  - name: imperative_to_assistant
    severity: MEDIUM
    description: 直接向助手下达命令的措辞
    patterns:
      - '\b(dear|attention|note\s+to|hey)\s+(ai|assistant|agent|chatbot|llm|language\s+model)\b'
      - '\b(ai|assistant|agent|chatbot|llm)\s*[,:，：]?\s*(please\s+)?(you\s+)?(must|should|need\s+to|have\s+to|immediately|now)\b'
      - '\b(call|invoke|execute|run|use)\s+(the\s+)?(\w+\s+)?(tool|function)\b'
      - '(\bai|助手|智能体|模型|机器人)[，,:：]?\s*(请|必须|务必|应该|立即|马上)'
      - '(请|务必|必须)(你)?(立即|马上|直接)?(调用|执行|发送|删除|转发)'
`
