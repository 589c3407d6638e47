package marker

import (
	"strings"
	"testing"
)

func TestRenderBlockLayout(t *testing.T) {
	b := Block{
		PlanID:   "a1b2c3d4e5f6",
		ItemID:   "T1",
		ItemType: "TASK",
		ParentID: "S1",
	}

	want := "PLANPILOT_META_V1\n" +
		"PLAN_ID:a1b2c3d4e5f6\n" +
		"ITEM_ID:T1\n" +
		"ITEM_TYPE:TASK\n" +
		"PARENT_ID:S1\n" +
		"END_PLANPILOT_META\n"

	if got := b.Render(); got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderEmptyParent(t *testing.T) {
	b := Block{PlanID: "a1b2c3d4e5f6", ItemID: "E1", ItemType: "EPIC"}

	if !strings.Contains(b.Render(), "PARENT_ID:\n") {
		t.Errorf("Render() should emit an empty PARENT_ID line, got %q", b.Render())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		block Block
	}{
		{
			name:  "task with parent",
			block: Block{PlanID: "a1b2c3d4e5f6", ItemID: "T2", ItemType: "TASK", ParentID: "S1"},
		},
		{
			name:  "epic without parent",
			block: Block{PlanID: "ffffffffffff", ItemID: "E1", ItemType: "EPIC"},
		},
		{
			name:  "story",
			block: Block{PlanID: "0123456789ab", ItemID: "S2", ItemType: "STORY", ParentID: "E1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.block.Render())
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if *parsed != tt.block {
				t.Errorf("round trip = %+v, want %+v", *parsed, tt.block)
			}
			if parsed.Render() != tt.block.Render() {
				t.Errorf("re-rendered block differs:\n%q\n%q", parsed.Render(), tt.block.Render())
			}
		})
	}
}

func TestParseInsideBody(t *testing.T) {
	body := "## Goal\n\nShip it.\n\n" +
		Block{PlanID: "a1b2c3d4e5f6", ItemID: "S1", ItemType: "STORY", ParentID: "E1"}.Render() +
		"\ntrailing prose\n"

	parsed, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.ItemID != "S1" || parsed.ParentID != "E1" {
		t.Errorf("Parse() = %+v", parsed)
	}
}

func TestParseWhitespaceTolerance(t *testing.T) {
	body := "  PLANPILOT_META_V1  \n" +
		"PLAN_ID:  a1b2c3d4e5f6\t\n" +
		" ITEM_ID : T1 \n" +
		"ITEM_TYPE:TASK\r\n" +
		"PARENT_ID:   \n" +
		"  END_PLANPILOT_META\n"

	parsed, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.PlanID != "a1b2c3d4e5f6" {
		t.Errorf("PlanID = %q", parsed.PlanID)
	}
	if parsed.ItemID != "T1" {
		t.Errorf("ItemID = %q", parsed.ItemID)
	}
	if parsed.ParentID != "" {
		t.Errorf("ParentID = %q, want empty", parsed.ParentID)
	}
}

func TestParseIgnoresUnknownKeys(t *testing.T) {
	body := "PLANPILOT_META_V1\n" +
		"PLAN_ID:a1b2c3d4e5f6\n" +
		"ITEM_ID:T1\n" +
		"FUTURE_KEY:whatever\n" +
		"ITEM_TYPE:TASK\n" +
		"PARENT_ID:S1\n" +
		"END_PLANPILOT_META\n"

	parsed, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.ItemID != "T1" || parsed.ParentID != "S1" {
		t.Errorf("Parse() = %+v", parsed)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no block", body: "just a regular issue body"},
		{name: "unterminated", body: "PLANPILOT_META_V1\nPLAN_ID:abc\nITEM_ID:T1\nITEM_TYPE:TASK\n"},
		{
			name: "missing item id",
			body: "PLANPILOT_META_V1\nPLAN_ID:a1b2c3d4e5f6\nITEM_TYPE:TASK\nEND_PLANPILOT_META\n",
		},
		{
			name: "unknown type",
			body: "PLANPILOT_META_V1\nPLAN_ID:a1b2c3d4e5f6\nITEM_ID:X\nITEM_TYPE:SAGA\nEND_PLANPILOT_META\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.body); err == nil {
				t.Errorf("Parse() expected error for %q", tt.body)
			}
		})
	}
}

func TestDiscoveryToken(t *testing.T) {
	if got := DiscoveryToken("a1b2c3d4e5f6"); got != "PLAN_ID:a1b2c3d4e5f6" {
		t.Errorf("DiscoveryToken() = %q", got)
	}
}

func TestContains(t *testing.T) {
	b := Block{PlanID: "a1b2c3d4e5f6", ItemID: "E1", ItemType: "EPIC"}
	if !Contains(b.Render()) {
		t.Error("Contains() = false for a rendered block")
	}
	if Contains("plain body") {
		t.Error("Contains() = true for a plain body")
	}
}
