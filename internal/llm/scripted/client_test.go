package scripted

import (
	"context"
	"errors"
	"testing"

	"AgentStep/internal/llm"
)

func TestClientReplaysThenFallsBack(t *testing.T) {
	client := New([]string{"first"}, WithFallback(func(_ context.Context, req llm.Request) (string, error) {
		return "echo: " + req.Prompt, nil
	}))
	ctx := context.Background()

	resp, err := client.Generate(ctx, llm.Request{Prompt: "a"})
	if err != nil || resp.Content != "first" {
		t.Fatalf("unexpected first reply: %+v %v", resp, err)
	}
	client.Push("pushed")
	resp, _ = client.Generate(ctx, llm.Request{Prompt: "b"})
	if resp.Content != "pushed" {
		t.Fatalf("expected pushed reply, got %q", resp.Content)
	}
	resp, _ = client.Generate(ctx, llm.Request{Prompt: "c"})
	if resp.Content != "echo: c" {
		t.Fatalf("expected fallback reply, got %q", resp.Content)
	}
	if got := len(client.Requests()); got != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", got)
	}
}

func TestClientExhausted(t *testing.T) {
	client := New(nil)
	if _, err := client.Generate(context.Background(), llm.Request{}); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New([]string{"x"}).Generate(ctx, llm.Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}
