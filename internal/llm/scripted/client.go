// Package scripted 提供按脚本回放的大模型客户端，用于测试与离线运行。
package scripted

import (
	"context"
	"errors"
	"sync"

	"AgentStep/internal/llm"
)

// ErrExhausted 表示脚本中的回复已全部用完。
var ErrExhausted = errors.New("脚本回复已用完")

// Responder 根据请求生成回复。
type Responder func(ctx context.Context, req llm.Request) (string, error)

// Client 依次返回预设回复；队列为空时交给 Fallback 处理。
type Client struct {
	mu       sync.Mutex
	replies  []string
	fallback Responder
	requests []llm.Request
}

// Option 定义可选配置。
type Option func(*Client)

// WithFallback 在脚本用完后使用给定函数生成回复。
func WithFallback(fn Responder) Option {
	return func(c *Client) {
		c.fallback = fn
	}
}

// New 创建脚本客户端。
func New(replies []string, opts ...Option) *Client {
	c := &Client{replies: append([]string(nil), replies...)}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Push 追加回复。
func (c *Client) Push(replies ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, replies...)
}

// Generate 实现 llm.Client。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.replies) > 0 {
		reply := c.replies[0]
		c.replies = c.replies[1:]
		c.mu.Unlock()
		return &llm.Response{Content: reply, Model: "scripted"}, nil
	}
	fallback := c.fallback
	c.mu.Unlock()

	if fallback == nil {
		return nil, ErrExhausted
	}
	reply, err := fallback(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: reply, Model: "scripted"}, nil
}

// Requests 返回已收到的请求。
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

var _ llm.Client = (*Client)(nil)
