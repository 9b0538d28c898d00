package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Request 描述一次大模型调用。
type Request struct {
	// System 是系统提示词，可为空。
	System string
	Prompt string
	// Temperature 为 0 时由具体实现决定默认值。
	Temperature float64
	// JSON 要求模型只输出 JSON 对象。
	JSON bool
}

// Response 是大模型返回的原始文本。
type Response struct {
	Content string
	Model   string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ErrEmptyContent 表示模型没有返回可解析的内容。
var ErrEmptyContent = errors.New("大模型响应内容为空")

// DecodeJSON 解析模型返回的 JSON，容忍 ```json 代码块包裹与前后说明文字。
func DecodeJSON(content string, dest any) error {
	text := strings.TrimSpace(content)
	if text == "" {
		return ErrEmptyContent
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if err := json.Unmarshal([]byte(text), dest); err == nil {
		return nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("响应中没有 JSON 对象: %q", truncate(text, 80))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), dest); err != nil {
		return fmt.Errorf("解析大模型 JSON 失败: %w", err)
	}
	return nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}
