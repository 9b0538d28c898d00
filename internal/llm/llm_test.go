package llm

import (
	"errors"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"agent_name"`
	}
	cases := map[string]string{
		"plain":   `{"agent_name":"PoetGPT"}`,
		"fenced":  "```json\n{\"agent_name\":\"PoetGPT\"}\n```",
		"chatter": "Sure! Here you go: {\"agent_name\":\"PoetGPT\"} Hope that helps.",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			var got payload
			if err := DecodeJSON(content, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Name != "PoetGPT" {
				t.Fatalf("unexpected name %q", got.Name)
			}
		})
	}
}

func TestDecodeJSONErrors(t *testing.T) {
	var out map[string]any
	if err := DecodeJSON("   ", &out); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected empty content error, got %v", err)
	}
	if err := DecodeJSON("no json here", &out); err == nil {
		t.Fatalf("expected error for non-json content")
	}
	if err := DecodeJSON("{broken", &out); err == nil {
		t.Fatalf("expected error for broken json")
	}
}
