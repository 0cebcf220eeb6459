package pricing

import (
	"strings"
	"testing"
)

func TestTable_Lookup(t *testing.T) {
	table := NewTable()

	tests := []struct {
		name        string
		model       string
		wantDisplay string
		wantInput   float64
	}{
		{
			name:        "exact match",
			model:       "gpt-4o",
			wantDisplay: "GPT-4o",
			wantInput:   2.50,
		},
		{
			name:        "exact match is case-insensitive",
			model:       "GPT-4O",
			wantDisplay: "GPT-4o",
			wantInput:   2.50,
		},
		{
			name:        "substring fallback picks first declared key",
			model:       "gpt-4o-2024-11-20",
			wantDisplay: "GPT-4o",
			wantInput:   2.50,
		},
		{
			name:        "dated claude snapshot",
			model:       "claude-3-opus-20240229",
			wantDisplay: "Claude 3 Opus",
			wantInput:   15.00,
		},
		{
			name:        "unknown model gets default pricing",
			model:       "totally-made-up-model",
			wantDisplay: "totally-made-up-model",
			wantInput:   1.00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := table.Lookup(tt.model)
			if entry.DisplayName != tt.wantDisplay {
				t.Errorf("DisplayName = %q, want %q", entry.DisplayName, tt.wantDisplay)
			}
			if entry.InputPer1M != tt.wantInput {
				t.Errorf("InputPer1M = %v, want %v", entry.InputPer1M, tt.wantInput)
			}
		})
	}
}

func TestTable_LookupDefaultEntry(t *testing.T) {
	table := NewTable()

	entry := table.Lookup("no-such-model")
	if entry.InputPer1M != DefaultEntry.InputPer1M || entry.OutputPer1M != DefaultEntry.OutputPer1M {
		t.Errorf("default pricing = %v/%v, want %v/%v",
			entry.InputPer1M, entry.OutputPer1M, DefaultEntry.InputPer1M, DefaultEntry.OutputPer1M)
	}
	if entry.ContextWindow != DefaultEntry.ContextWindow {
		t.Errorf("ContextWindow = %d, want %d", entry.ContextWindow, DefaultEntry.ContextWindow)
	}
	if !strings.Contains(entry.Description, "default pricing") {
		t.Errorf("Description = %q, want default pricing marker", entry.Description)
	}
}

func TestTable_ModelsOrderIsStable(t *testing.T) {
	a := NewTable().Models()
	b := NewTable().Models()

	if len(a) == 0 {
		t.Fatal("expected non-empty model list")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("model order differs at %d: %q vs %q", i, a[i], b[i])
		}
	}
	if a[0] != "gpt-4o" {
		t.Errorf("first declared model = %q, want gpt-4o", a[0])
	}
}

func TestTable_Known(t *testing.T) {
	table := NewTable()

	if !table.Known("gpt-4o-mini") {
		t.Error("expected gpt-4o-mini to be known")
	}
	if !table.Known("claude-3-5-sonnet-20241022-extended") {
		t.Error("expected substring match to count as known")
	}
	if table.Known("unpriced-model") {
		t.Error("expected unpriced-model to be unknown")
	}
}
