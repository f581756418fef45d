package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vonshlovens/tripsync/internal/db"
)

// recordsHeading starts the generated record list in exported journals
const recordsHeading = "## Records"

// ErrInvalidUTF8 is returned for journal files that are not text
var ErrInvalidUTF8 = errors.New("journal is not valid UTF-8")

// Journal is a trip written out as Markdown with front matter
type Journal struct {
	Frontmatter *Frontmatter
	Format      Format
	// Body is the trip's own text, without any exported record list
	Body string
}

// ParseFile reads and parses a journal file. The file's modification time
// stands in for missing created/updated dates.
func ParseFile(path string) (*Journal, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	j, err := ParseContent(string(content), path)
	if err != nil {
		return nil, err
	}

	if j.Frontmatter.Created == nil || j.Frontmatter.Updated == nil {
		if info, err := os.Stat(path); err == nil {
			mod := info.ModTime().UTC()
			if j.Frontmatter.Created == nil {
				j.Frontmatter.Created = &mod
			}
			if j.Frontmatter.Updated == nil {
				j.Frontmatter.Updated = &mod
			}
		}
	}
	return j, nil
}

// ParseContent parses journal content. Without a title in the front matter
// the file name is used.
func ParseContent(content string, path string) (*Journal, error) {
	if !IsValidUTF8(content) {
		return nil, ErrInvalidUTF8
	}

	fm, body, format, err := ParseFrontmatter(content)
	if err != nil {
		return nil, err
	}

	if idx := strings.Index(body, "\n"+recordsHeading+"\n"); idx != -1 {
		body = body[:idx]
	} else if strings.HasPrefix(body, recordsHeading+"\n") {
		body = ""
	}

	if fm.Title == "" && path != "" {
		filename := filepath.Base(path)
		fm.Title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	return &Journal{
		Frontmatter: fm,
		Format:      format,
		Body:        strings.TrimSpace(body),
	}, nil
}

// NewTrip creates a draft trip from the journal with a fresh id. Ids and
// statuses in the front matter are not trusted on import.
func (j *Journal) NewTrip(now time.Time) (*db.Trip, error) {
	if j.Frontmatter.Title == "" {
		return nil, errors.New("journal has no title")
	}

	trip := db.NewTrip(j.Frontmatter.Title, j.Body, now)
	if c := j.Frontmatter.Created; c != nil && c.Before(trip.CreatedAt) {
		trip.CreatedAt = c.UTC()
	}
	return trip, nil
}

// RenderTrip writes a trip and its live records as a journal. Records are
// listed in the order they happened.
func RenderTrip(trip *db.Trip, records []*db.TripRecord, format Format) (string, error) {
	created := trip.CreatedAt
	updated := trip.UpdatedAt
	header, err := renderFrontmatter(&Frontmatter{
		ID:      trip.ID.String(),
		Title:   trip.Title,
		Status:  string(trip.Status),
		Created: &created,
		Updated: &updated,
	}, format)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	if content := strings.TrimSpace(trip.Content); content != "" {
		b.WriteString(content)
		b.WriteString("\n")
	}

	live := make([]*db.TripRecord, 0, len(records))
	for _, r := range records {
		if r.DeletedAt == nil {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		return b.String(), nil
	}
	sort.SliceStable(live, func(i, k int) bool { return live[i].HappenedAt.Before(live[k].HappenedAt) })

	b.WriteString("\n" + recordsHeading + "\n")
	for _, r := range live {
		fmt.Fprintf(&b, "\n### %s · %s\n\n", r.HappenedAt.UTC().Format("2006-01-02 15:04 MST"), r.Type)
		fmt.Fprintf(&b, "_%.5f, %.5f_\n", r.Location.Latitude, r.Location.Longitude)
		if r.Content != nil && strings.TrimSpace(*r.Content) != "" {
			b.WriteString("\n")
			b.WriteString(strings.TrimSpace(*r.Content))
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// IsValidUTF8 checks if content is valid UTF-8
func IsValidUTF8(content string) bool {
	return utf8.ValidString(content)
}
