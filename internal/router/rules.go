package router

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleFile 对应路由规则 YAML 文件的结构。
type RuleFile struct {
	Rules         []Rule `yaml:"rules"`
	DefaultAgent  string `yaml:"default_agent"`
	DefaultIntent string `yaml:"default_intent"`
}

// LoadRuleFile 从 YAML 文件加载路由规则。文件中的规则顺序即匹配顺序。
func LoadRuleFile(path string) (RuleFile, error) {
	if strings.TrimSpace(path) == "" {
		return RuleFile{}, fmt.Errorf("路由规则文件路径不能为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return RuleFile{}, fmt.Errorf("读取路由规则失败: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return RuleFile{}, fmt.Errorf("解析路由规则失败: %w", err)
	}

	for i, rule := range file.Rules {
		if strings.TrimSpace(rule.AgentID) == "" {
			return RuleFile{}, fmt.Errorf("第 %d 条规则缺少 agent", i+1)
		}
		if len(rule.Keywords) == 0 {
			return RuleFile{}, fmt.Errorf("第 %d 条规则缺少 keywords", i+1)
		}
	}
	return file, nil
}

// FromConfig 根据可选的规则文件构造路由器；path 为空时使用内置规则表。
func FromConfig(path, defaultAgent, defaultIntent string) (*Router, error) {
	if strings.TrimSpace(path) == "" {
		return New(DefaultRules(), defaultAgent, defaultIntent), nil
	}
	file, err := LoadRuleFile(path)
	if err != nil {
		return nil, err
	}
	agent := file.DefaultAgent
	if defaultAgent != "" {
		agent = defaultAgent
	}
	intent := file.DefaultIntent
	if defaultIntent != "" {
		intent = defaultIntent
	}
	return New(file.Rules, agent, intent), nil
}
