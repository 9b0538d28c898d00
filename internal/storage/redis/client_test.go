package redis

import (
	"context"
	"os"
	"testing"
)

func TestPrefix(t *testing.T) {
	cases := map[string]string{
		"":           DefaultKeyPrefix,
		"  ":         DefaultKeyPrefix,
		"custom":     "custom",
		"custom:":    "custom",
		"team:agent": "team:agent",
	}
	for input, want := range cases {
		if got := (Config{KeyPrefix: input}).Prefix(); got != want {
			t.Fatalf("prefix %q: want %q got %q", input, want, got)
		}
	}
}

func TestOpenRequiresAddress(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestOpenLive(t *testing.T) {
	addr := os.Getenv("AGENTSTEP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTSTEP_TEST_REDIS_ADDR not set")
	}
	client, err := Open(context.Background(), Config{Address: addr})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer client.Close()
}
