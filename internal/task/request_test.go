package task

import (
	"testing"

	xerrors "AgentStep/internal/errors"
)

func TestParseTaskInput(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]any
		wantCode xerrors.Code
		wantRoot string
	}{
		{name: "nil input", raw: nil, wantCode: CodeMissingObjective},
		{name: "objective not a string", raw: map[string]any{"user_objective": 42}, wantCode: CodeMissingObjective},
		{name: "blank objective", raw: map[string]any{"user_objective": " \t"}, wantCode: CodeMissingObjective},
		{
			name:     "missing objective wins over bad configuration",
			raw:      map[string]any{"user_configuration": 1},
			wantCode: CodeMissingObjective,
		},
		{
			name:     "configuration wrong type",
			raw:      map[string]any{"user_objective": "x", "user_configuration": []string{"a"}},
			wantCode: CodeInvalidTaskInput,
		},
		{name: "objective only", raw: map[string]any{"user_objective": "write a haiku"}},
		{
			name: "existing workspace",
			raw: map[string]any{
				"user_objective": "resume",
				"user_configuration": map[string]any{
					"workspace": map[string]any{"configuration": map[string]any{"root": "/ws/1"}},
				},
			},
			wantRoot: "/ws/1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseTaskInput(tt.raw)
			if tt.wantCode != "" {
				if got := xerrors.CodeOf(err); got != tt.wantCode {
					t.Fatalf("expected code %s, got %s (%v)", tt.wantCode, got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if root := req.Configuration().WorkspaceRoot(); root != tt.wantRoot {
				t.Fatalf("expected root %q, got %q", tt.wantRoot, root)
			}
		})
	}
}
