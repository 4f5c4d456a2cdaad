package ai

import (
	"fmt"
	"strings"
)

// defaultSystemPrompt 学习助手的基础设定。
const defaultSystemPrompt = `你是一名耐心、严谨的学习助手，帮助学生理解课程内容、整理笔记并准备复习。`

var studyRules = []string{
	"先给出结论，再分步骤解释推理过程",
	"涉及公式或代码时使用 Markdown 格式",
	"不确定的内容要明确说明，不要编造来源",
	"回答使用与用户提问相同的语言",
}

// BuildSystemPrompt 组合系统提示词；override 非空时替换基础设定。
func BuildSystemPrompt(override string) string {
	base := strings.TrimSpace(override)
	if base == "" {
		base = defaultSystemPrompt
	}

	return fmt.Sprintf("%s\n\n回答规则：\n- %s", base, strings.Join(studyRules, "\n- "))
}

// buildQuery 把被引用的消息放在问题之前。
func buildQuery(query, quote string) string {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return query
	}

	var builder strings.Builder
	builder.WriteString("引用内容：\n")
	for _, line := range strings.Split(quote, "\n") {
		builder.WriteString("> ")
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	builder.WriteString("\n")
	builder.WriteString(query)
	return builder.String()
}
