package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/tripsync/internal/db"
)

func sampleTrip() (*db.Trip, []*db.TripRecord) {
	created := time.Date(2024, 6, 25, 8, 0, 0, 0, time.UTC)
	trip := db.NewTrip("Bratislava to Lisbon", "Thumb out at the D2 on-ramp.", created)
	trip.Status = db.TripInProgress

	story := "Truck driver from Porto, talked football for 300 km."
	deleted := created.Add(3 * time.Hour)
	records := []*db.TripRecord{
		{
			ID: uuid.New(), TripID: trip.ID, Type: db.RecordDropoff,
			Location:   db.Location{Latitude: 48.20817, Longitude: 16.37382},
			HappenedAt: created.Add(2 * time.Hour),
		},
		{
			ID: uuid.New(), TripID: trip.ID, Type: db.RecordPickup, Content: &story,
			Location:   db.Location{Latitude: 48.14816, Longitude: 17.10674},
			HappenedAt: created.Add(time.Hour),
		},
		{
			ID: uuid.New(), TripID: trip.ID, Type: db.RecordCamping,
			HappenedAt: created.Add(90 * time.Minute), DeletedAt: &deleted,
		},
	}
	return trip, records
}

func TestRenderTrip(t *testing.T) {
	trip, records := sampleTrip()

	out, err := RenderTrip(trip, records, FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(out, "---\n") {
		t.Errorf("expected YAML front matter, got %q", out[:min(20, len(out))])
	}
	if !strings.Contains(out, "title: Bratislava to Lisbon") {
		t.Error("expected title in front matter")
	}
	if strings.Contains(out, "camping") {
		t.Error("tombstoned records must not be exported")
	}

	pickup := strings.Index(out, "pickup")
	dropoff := strings.Index(out, "dropoff")
	if pickup == -1 || dropoff == -1 || pickup > dropoff {
		t.Errorf("expected records in the order they happened:\n%s", out)
	}
	if !strings.Contains(out, "_48.14816, 17.10674_") {
		t.Errorf("expected record location in output:\n%s", out)
	}
}

func TestRenderTrip_RoundTrip(t *testing.T) {
	trip, records := sampleTrip()

	for _, format := range []Format{FormatYAML, FormatTOML} {
		t.Run(format.String(), func(t *testing.T) {
			out, err := RenderTrip(trip, records, format)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			j, err := ParseContent(out, "ignored.md")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if j.Format != format {
				t.Errorf("expected format %v, got %v", format, j.Format)
			}
			if j.Frontmatter.ID != trip.ID.String() {
				t.Errorf("expected id %s, got %q", trip.ID, j.Frontmatter.ID)
			}
			if j.Frontmatter.Title != trip.Title {
				t.Errorf("expected title %q, got %q", trip.Title, j.Frontmatter.Title)
			}
			if j.Frontmatter.Status != string(db.TripInProgress) {
				t.Errorf("expected status in_progress, got %q", j.Frontmatter.Status)
			}
			if j.Frontmatter.Created == nil || !j.Frontmatter.Created.Equal(trip.CreatedAt) {
				t.Errorf("expected created %v, got %v", trip.CreatedAt, j.Frontmatter.Created)
			}
			if j.Body != trip.Content {
				t.Errorf("expected body %q without the record list, got %q", trip.Content, j.Body)
			}
		})
	}
}

func TestRenderTrip_UnknownFormat(t *testing.T) {
	trip, _ := sampleTrip()
	if _, err := RenderTrip(trip, nil, FormatNone); err == nil {
		t.Error("expected error for FormatNone")
	}
}

func TestParseContent_TitleFromFilename(t *testing.T) {
	j, err := ParseContent("Just a body.", "notes/Balkan loop.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.Frontmatter.Title != "Balkan loop" {
		t.Errorf("expected title 'Balkan loop', got %q", j.Frontmatter.Title)
	}
	if j.Body != "Just a body." {
		t.Errorf("unexpected body %q", j.Body)
	}
}

func TestParseContent_RejectsBinary(t *testing.T) {
	_, err := ParseContent(string([]byte{0xff, 0xd8, 0xff}), "photo.md")
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestParseFile_DatesFallBackToModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trip.md")
	if err := os.WriteFile(path, []byte("---\ntitle: Alps\n---\nSnow.\n"), 0644); err != nil {
		t.Fatal(err)
	}

	j, err := ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if j.Frontmatter.Created == nil || j.Frontmatter.Updated == nil {
		t.Fatal("expected dates from file modification time")
	}
}

func TestJournal_NewTrip(t *testing.T) {
	created := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	j := &Journal{
		Frontmatter: &Frontmatter{ID: uuid.NewString(), Title: "Alps", Status: "archived", Created: &created},
		Body:        "Snow.",
	}
	now := time.Date(2024, 6, 25, 8, 0, 0, 0, time.UTC)

	trip, err := j.NewTrip(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if trip.ID.String() == j.Frontmatter.ID {
		t.Error("imported trips get a fresh id")
	}
	if trip.Status != db.TripDraft {
		t.Errorf("expected draft, got %v", trip.Status)
	}
	if !trip.CreatedAt.Equal(created) {
		t.Errorf("expected created %v, got %v", created, trip.CreatedAt)
	}
	if !trip.UpdatedAt.Equal(now) {
		t.Errorf("expected updated %v, got %v", now, trip.UpdatedAt)
	}

	if _, err := (&Journal{Frontmatter: &Frontmatter{}}).NewTrip(now); err == nil {
		t.Error("expected error without title")
	}
}

func TestIsValidUTF8(t *testing.T) {
	tests := []struct {
		content  string
		expected bool
	}{
		{"Hello World", true},
		{"日本語", true},
		{"", true},
		{string([]byte{0xff, 0xfe}), false},
	}

	for _, tt := range tests {
		result := IsValidUTF8(tt.content)
		if result != tt.expected {
			t.Errorf("IsValidUTF8(%q) = %v, want %v", tt.content, result, tt.expected)
		}
	}
}
