package template

import (
	"testing"
	"time"
)

func TestRender_DateTokens(t *testing.T) {
	ctx := Context{Now: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "month and year",
			input: "Report {{current_month}} {{current_year}}",
			want:  "Report February 2024",
		},
		{
			name:  "iso date",
			input: "Due on {{current_date}}",
			want:  "Due on 2024-02-01",
		},
		{
			name:  "week number",
			input: "Week {{week_number}} review",
			want:  "Week 5 review",
		},
		{
			name:  "unknown token left verbatim",
			input: "Hello {{foo}}",
			want:  "Hello {{foo}}",
		},
		{
			name:  "mixed known and unknown",
			input: "{{current_year}}-{{bogus}}",
			want:  "2024-{{bogus}}",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "no tokens",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.input, ctx); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRender_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Riyadh")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 23:00 UTC on Jan 31 is already Feb 1 in Riyadh.
	ctx := Context{Now: time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC), Location: loc}
	if got := Render("{{current_month}}", ctx); got != "February" {
		t.Errorf("expected February in rule timezone, got %q", got)
	}
}

func TestRenderFields_DottedPaths(t *testing.T) {
	ctx := Context{Now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}
	attrs := map[string]interface{}{
		"ticket.title":    "Printer broken",
		"ticket.priority": "high",
	}

	got := RenderFields("[{{ticket.priority}}] {{ticket.title}} ({{current_date}})", attrs, ctx)
	want := "[high] Printer broken (2024-02-01)"
	if got != want {
		t.Errorf("RenderFields() = %q, want %q", got, want)
	}

	// Unknown paths stay verbatim.
	got = RenderFields("{{ticket.nope}}", attrs, ctx)
	if got != "{{ticket.nope}}" {
		t.Errorf("expected unknown path verbatim, got %q", got)
	}
}

func TestRenderTicket(t *testing.T) {
	ctx := Context{Now: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}

	t.Run("full template", func(t *testing.T) {
		tpl := &TemplateData{
			Title:       "Report {{current_month}} {{current_year}}",
			Description: "Monthly close for {{current_month}}",
			Priority:    "high",
			Data:        map[string]interface{}{"department": "finance"},
		}
		in := RenderTicket(tpl, "monthly-close", ctx)
		if in.Title != "Report February 2024" {
			t.Errorf("unexpected title %q", in.Title)
		}
		if in.Description != "Monthly close for February" {
			t.Errorf("unexpected description %q", in.Description)
		}
		if in.Priority != "high" {
			t.Errorf("unexpected priority %q", in.Priority)
		}
		if in.Data["department"] != "finance" {
			t.Error("expected data passed through")
		}
	})

	t.Run("nil template falls back to rule name", func(t *testing.T) {
		in := RenderTicket(nil, "weekly-report", ctx)
		if in.Title != "weekly-report" {
			t.Errorf("expected rule name title, got %q", in.Title)
		}
		if in.Description != "" {
			t.Errorf("expected empty description, got %q", in.Description)
		}
		if in.Priority != "medium" {
			t.Errorf("expected default priority, got %q", in.Priority)
		}
	})

	t.Run("empty title falls back to rule name", func(t *testing.T) {
		in := RenderTicket(&TemplateData{Priority: "low"}, "fallback-rule", ctx)
		if in.Title != "fallback-rule" {
			t.Errorf("expected rule name title, got %q", in.Title)
		}
		if in.Priority != "low" {
			t.Errorf("expected low priority, got %q", in.Priority)
		}
	})
}

func TestParseTemplateData(t *testing.T) {
	tpl, err := ParseTemplateData(`{"title":"T","priority":"urgent"}`)
	if err != nil {
		t.Fatalf("ParseTemplateData failed: %v", err)
	}
	if tpl.Title != "T" || tpl.Priority != "urgent" {
		t.Errorf("unexpected template: %+v", tpl)
	}

	tpl, err = ParseTemplateData("")
	if err != nil || tpl != nil {
		t.Errorf("expected nil template for empty input, got %+v, %v", tpl, err)
	}

	if _, err := ParseTemplateData("{broken"); err == nil {
		t.Error("expected error for malformed template")
	}
}
