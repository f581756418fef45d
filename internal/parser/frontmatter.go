package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is the front matter syntax of a journal file
type Format int

const (
	FormatNone Format = iota
	FormatYAML
	FormatTOML
)

func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatTOML:
		return "toml"
	default:
		return "none"
	}
}

// ParseFormat maps a --format flag value
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "yaml", "yml", "":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return FormatNone, fmt.Errorf("unknown front matter format %q", s)
	}
}

var (
	// yamlRegex matches YAML front matter between --- delimiters
	yamlRegex = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n?`)

	// tomlRegex matches TOML front matter between +++ delimiters
	tomlRegex = regexp.MustCompile(`(?s)^\+\+\+\n(.+?)\n\+\+\+\n?`)

	dateFormats = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
		"02.01.2006",
	}

	knownFields = map[string]bool{
		"id": true, "title": true, "status": true, "created": true, "updated": true,
	}
)

// Frontmatter is the metadata block of a trip journal
type Frontmatter struct {
	ID      string
	Title   string
	Status  string
	Created *time.Time
	Updated *time.Time
	Extra   map[string]any
}

// parseDate accepts the date spellings people type by hand. Unparseable
// dates yield nil.
func parseDate(str string) *time.Time {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, str); err == nil {
			return &t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
		return &t
	}
	return nil
}

// dateField reads a date that the decoder may have resolved to a time.Time
// or left as a string
func dateField(fields map[string]any, key string) *time.Time {
	switch v := fields[key].(type) {
	case time.Time:
		return &v
	case string:
		return parseDate(v)
	default:
		return nil
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}

// ParseFrontmatter splits content into front matter and body. Content
// without a front matter block is returned whole with FormatNone.
func ParseFrontmatter(content string) (*Frontmatter, string, Format, error) {
	fm := &Frontmatter{Extra: make(map[string]any)}

	var (
		fields map[string]any
		body   string
		format Format
	)

	if match := yamlRegex.FindStringSubmatch(content); match != nil {
		format = FormatYAML
		body = content[len(match[0]):]
		if err := yaml.Unmarshal([]byte(match[1]), &fields); err != nil {
			return nil, "", format, fmt.Errorf("invalid YAML front matter: %w", err)
		}
	} else if match := tomlRegex.FindStringSubmatch(content); match != nil {
		format = FormatTOML
		body = content[len(match[0]):]
		if _, err := toml.Decode(match[1], &fields); err != nil {
			return nil, "", format, fmt.Errorf("invalid TOML front matter: %w", err)
		}
	} else {
		return fm, content, FormatNone, nil
	}

	fm.ID = stringField(fields, "id")
	fm.Title = stringField(fields, "title")
	fm.Status = stringField(fields, "status")
	fm.Created = dateField(fields, "created")
	fm.Updated = dateField(fields, "updated")

	for k, v := range fields {
		if !knownFields[k] {
			fm.Extra[k] = v
		}
	}
	return fm, body, format, nil
}

// HasFrontmatter checks if content starts with a YAML or TOML block
func HasFrontmatter(content string) bool {
	return yamlRegex.MatchString(content) || tomlRegex.MatchString(content)
}

type renderedFrontmatter struct {
	ID      string `yaml:"id" toml:"id"`
	Title   string `yaml:"title" toml:"title"`
	Status  string `yaml:"status" toml:"status"`
	Created string `yaml:"created" toml:"created"`
	Updated string `yaml:"updated" toml:"updated"`
}

// renderFrontmatter writes fm as a delimited block in format
func renderFrontmatter(fm *Frontmatter, format Format) (string, error) {
	out := renderedFrontmatter{
		ID:     fm.ID,
		Title:  fm.Title,
		Status: fm.Status,
	}
	if fm.Created != nil {
		out.Created = fm.Created.UTC().Format(time.RFC3339)
	}
	if fm.Updated != nil {
		out.Updated = fm.Updated.UTC().Format(time.RFC3339)
	}

	var buf bytes.Buffer
	switch format {
	case FormatTOML:
		buf.WriteString("+++\n")
		if err := toml.NewEncoder(&buf).Encode(out); err != nil {
			return "", fmt.Errorf("failed to encode TOML front matter: %w", err)
		}
		buf.WriteString("+++\n")
	case FormatYAML:
		buf.WriteString("---\n")
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return "", fmt.Errorf("failed to encode YAML front matter: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		buf.WriteString("---\n")
	default:
		return "", fmt.Errorf("cannot render front matter as %s", format)
	}
	return buf.String(), nil
}
