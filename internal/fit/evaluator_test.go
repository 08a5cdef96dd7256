package fit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubGenerator struct {
	out    string
	err    error
	prompt string
}

func (s *stubGenerator) GenerateJSON(_ context.Context, _ string, prompt string) (string, error) {
	s.prompt = prompt
	return s.out, s.err
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	failOpen := Analysis{IsFit: true, Reasoning: "Defaulting to True due to analysis error."}

	tests := []struct {
		name string
		out  string
		err  error
		want Analysis
	}{
		{
			name: "fit",
			out:  `{"is_fit": true, "reasoning": "Strong Go background."}`,
			want: Analysis{IsFit: true, Reasoning: "Strong Go background."},
		},
		{
			name: "not a fit in code fence",
			out:  "```json\n{\"is_fit\": false, \"reasoning\": \" Lacks required Java experience. \"}\n```",
			want: Analysis{IsFit: false, Reasoning: "Lacks required Java experience."},
		},
		{
			name: "not a fit with trailing prose",
			out:  "{\"is_fit\": false, \"reasoning\": \"needs Java\"}\nLet me know if you need more.",
			want: Analysis{IsFit: false, Reasoning: "needs Java"},
		},
		{name: "model error", err: errors.New("timeout"), want: failOpen},
		{name: "malformed json", out: `{"is_fit": tru`, want: failOpen},
		{name: "string instead of bool", out: `{"is_fit": "no", "reasoning": "x"}`, want: failOpen},
		{name: "missing reasoning", out: `{"is_fit": false}`, want: failOpen},
		{name: "prose only", out: "I think the candidate fits.", want: failOpen},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			gen := &stubGenerator{out: tc.out, err: tc.err}
			got := NewEvaluator(gen, zap.NewNop()).Evaluate(context.Background(), "Go engineer, 7 years", "Senior Java developer")
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestEvaluatePromptAndLogging(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	gen := &stubGenerator{err: errors.New("quota exceeded")}

	got := NewEvaluator(gen, zap.New(core)).Evaluate(context.Background(), "PROFILE-TEXT", "JOB-TEXT")
	if !got.IsFit || got.Reasoning != DefaultReasoning {
		t.Fatalf("expected fail-open result, got %+v", got)
	}

	if !strings.Contains(gen.prompt, "PROFILE-TEXT") || !strings.Contains(gen.prompt, "JOB-TEXT") {
		t.Fatalf("prompt must embed both texts:\n%s", gen.prompt)
	}

	if logs.FilterMessage("error analyzing job fit").Len() != 1 {
		t.Fatalf("expected the error to be logged, got %v", logs.All())
	}
}

func TestEvaluateWithoutModelFailsOpen(t *testing.T) {
	t.Parallel()

	got := NewEvaluator(nil, nil).Evaluate(context.Background(), "p", "j")
	if got != (Analysis{IsFit: true, Reasoning: DefaultReasoning}) {
		t.Fatalf("unexpected result %+v", got)
	}
}
