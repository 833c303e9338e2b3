package router

import (
	"strings"
)

// Rule 是一条路由规则：消息包含任一关键词（不区分大小写）即命中。
// 规则按声明顺序求值，先命中者胜出；重叠关键词集合（如 protocol 与
// blockchain protocol）的优先级由声明顺序决定，而非模式的具体程度，
// 因此顺序是对外可观察的契约，跨版本必须保持稳定。
type Rule struct {
	Keywords []string `yaml:"keywords"`
	AgentID  string   `yaml:"agent"`
	Intent   string   `yaml:"intent"`
}

// Decision 是一次路由的结果。Fallback 为 true 表示没有规则命中，
// 使用了默认智能体；这不是错误，但应当记录。
type Decision struct {
	AgentID  string
	Intent   string
	Fallback bool
}

// Router 将自然语言消息映射到 (agent, intent)。纯函数、全函数、确定性：
// 任何输入（包括空串）都会得到一个非空的智能体。
type Router struct {
	rules         []Rule
	defaultAgent  string
	defaultIntent string
}

// New 构造路由器。rules 为空时仅做默认路由。
func New(rules []Rule, defaultAgent, defaultIntent string) *Router {
	if defaultAgent == "" {
		defaultAgent = "literature_agent"
	}
	if defaultIntent == "" {
		defaultIntent = "general_query"
	}
	return &Router{
		rules:         rules,
		defaultAgent:  defaultAgent,
		defaultIntent: defaultIntent,
	}
}

// Route 自顶向下匹配规则，返回命中的 (agent, intent)。
func (r *Router) Route(message string) Decision {
	normalized := strings.ToLower(message)
	for _, rule := range r.rules {
		for _, keyword := range rule.Keywords {
			keyword = strings.ToLower(strings.TrimSpace(keyword))
			if keyword == "" {
				continue
			}
			if strings.Contains(normalized, keyword) {
				return Decision{AgentID: rule.AgentID, Intent: rule.Intent}
			}
		}
	}
	return Decision{AgentID: r.defaultAgent, Intent: r.defaultIntent, Fallback: true}
}

// Rules 返回规则副本，主要用于诊断接口。
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// DefaultRules 返回内置的实验室助手路由表。
// 账本状态类查询排在最前，其次是账本写入/校验，然后依次为文献、
// 实验方案、试剂与实验操作；顺序即优先级。
func DefaultRules() []Rule {
	return []Rule{
		{
			Keywords: []string{"balance", "blockchain status", "connection", "network info"},
			AgentID:  "blockchain_agent",
			Intent:   "status_check",
		},
		{
			Keywords: []string{
				"blockchain", "on-chain", "on chain", "notarize", "notarization",
				"transaction", "tx hash", "tamper", "provenance", "integrity",
				"neo x", "wallet", "gas",
			},
			AgentID: "blockchain_agent",
			Intent:  "blockchain_operation",
		},
		{
			Keywords: []string{"paper", "pubmed", "publication", "literature", "research on", "article", "doi"},
			AgentID:  "literature_agent",
			Intent:   "literature_search",
		},
		{
			Keywords: []string{
				"protocol", "staining", "western blot", "immunostain",
				"procedure", "lysis", "extraction", "pcr",
			},
			AgentID: "protocol_agent",
			Intent:  "protocol_operation",
		},
		{
			Keywords: []string{
				"antibody", "reagent", "inventory", "running low",
				"catalog", "abcam", "thermo fisher", "used",
			},
			AgentID: "reagent_agent",
			Intent:  "reagent_operation",
		},
		{
			Keywords: []string{"experiment", "exp_", "assay", "test", "analyze", "results"},
			AgentID:  "experiment_agent",
			Intent:   "experiment_operation",
		},
	}
}
