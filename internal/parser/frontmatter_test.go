package parser

import (
	"testing"
	"time"
)

func TestParseFrontmatter_YAML(t *testing.T) {
	content := `---
title: Bratislava to Lisbon
status: in_progress
weather: rainy
---
First night in Vienna.
`

	fm, body, format, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if format != FormatYAML {
		t.Errorf("expected yaml, got %v", format)
	}
	if fm.Title != "Bratislava to Lisbon" {
		t.Errorf("expected title 'Bratislava to Lisbon', got %q", fm.Title)
	}
	if fm.Status != "in_progress" {
		t.Errorf("expected status in_progress, got %q", fm.Status)
	}
	if fm.Extra["weather"] != "rainy" {
		t.Errorf("expected extra weather 'rainy', got %v", fm.Extra["weather"])
	}

	expected := "First night in Vienna.\n"
	if body != expected {
		t.Errorf("expected body %q, got %q", expected, body)
	}
}

func TestParseFrontmatter_TOML(t *testing.T) {
	content := `+++
title = "Balkans"
created = 2024-06-25T08:00:00Z
updated = "2024-06-26"

[car]
plates = "BA-123"
+++
Body
`

	fm, body, format, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if format != FormatTOML {
		t.Errorf("expected toml, got %v", format)
	}
	if fm.Title != "Balkans" {
		t.Errorf("expected title 'Balkans', got %q", fm.Title)
	}
	if fm.Created == nil || !fm.Created.Equal(time.Date(2024, 6, 25, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("expected created 2024-06-25T08:00:00Z, got %v", fm.Created)
	}
	if fm.Updated == nil || fm.Updated.Day() != 26 {
		t.Errorf("expected updated on the 26th, got %v", fm.Updated)
	}
	if _, ok := fm.Extra["car"]; !ok {
		t.Error("expected nested table to be captured")
	}
	if body != "Body\n" {
		t.Errorf("expected body %q, got %q", "Body\n", body)
	}
}

func TestParseFrontmatter_NoFrontmatter(t *testing.T) {
	content := "Just some content without front matter."

	fm, body, format, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if format != FormatNone {
		t.Errorf("expected none, got %v", format)
	}
	if fm.Title != "" {
		t.Errorf("expected empty title, got %q", fm.Title)
	}
	if body != content {
		t.Errorf("expected body %q, got %q", content, body)
	}
}

func TestParseFrontmatter_Dates(t *testing.T) {
	content := `---
created: 2024-01-15
updated: 2024-01-15T10:30:00
---
Body
`

	fm, _, _, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fm.Created == nil {
		t.Fatal("expected created date")
	}
	if fm.Created.Year() != 2024 || fm.Created.Month() != time.January || fm.Created.Day() != 15 {
		t.Errorf("expected created 2024-01-15, got %v", fm.Created)
	}

	if fm.Updated == nil {
		t.Fatal("expected updated date")
	}
	if fm.Updated.Hour() != 10 || fm.Updated.Minute() != 30 {
		t.Errorf("expected updated time 10:30, got %v", fm.Updated)
	}
}

func TestParseFrontmatter_UnparseableDateIsEmpty(t *testing.T) {
	content := `---
title: Test
created: sometime last summer
---
`

	fm, _, _, err := ParseFrontmatter(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm.Created != nil {
		t.Errorf("expected nil created, got %v", fm.Created)
	}
}

func TestParseFrontmatter_Invalid(t *testing.T) {
	tests := []string{
		"---\ntitle: [unclosed\n---\nbody",
		"+++\ntitle = \n+++\nbody",
	}

	for _, content := range tests {
		if _, _, _, err := ParseFrontmatter(content); err == nil {
			t.Errorf("expected error for %q", content)
		}
	}
}

func TestHasFrontmatter(t *testing.T) {
	tests := []struct {
		content  string
		expected bool
	}{
		{"---\ntitle: test\n---\nbody", true},
		{"+++\ntitle = \"test\"\n+++\nbody", true},
		{"no front matter here", false},
		{"---\ntitle: test\n---", true},
		{"--- not front matter", false},
	}

	for _, tt := range tests {
		result := HasFrontmatter(tt.content)
		if result != tt.expected {
			t.Errorf("HasFrontmatter(%q) = %v, want %v", tt.content[:min(20, len(tt.content))], result, tt.expected)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"TOML", FormatTOML, false},
		{"json", FormatNone, true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, %v", tt.in, got, err)
		}
	}
}
