package generator

import (
	"context"
	"strings"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	// 按提示词类型给出可预测的输出。
	switch prompt.Kind {
	case KindHeadline:
		return "Mock headline", nil
	case KindGrammar:
		return strings.TrimSpace(prompt.Input), nil
	}
	var sb strings.Builder
	sb.WriteString("## Mock draft\n\n")
	sb.WriteString("This text was generated locally without calling a model.\n\n")
	sb.WriteString("- point one\n- point two\n")
	return sb.String(), nil
}
