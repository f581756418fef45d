package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Basic cases
		{"Jakub", "jakub"},
		{"trip_user", "trip_user"},
		{"trip-user", "trip_user"},

		// Email-style account names
		{"someone@example.com", "someone_example_com"},
		{"first.last", "first_last"},

		// Spaces
		{"My Travel Diary", "my_travel_diary"},
		{"Roads  and   Rides", "roads_and_rides"},

		// Special characters
		{"Hitchhiker (2024)", "hitchhiker_2024"},
		{"Trips & Stops", "trips_stops"},
		{"Road!", "road"},

		// Unicode
		{"Cestovný Denník", "cestovn_dennk"},
		{"日本語", "diary"},

		// Starts with number
		{"2024 trips", "diary_2024_trips"},
		{"123", "diary_123"},

		// Edge cases
		{"", "diary"},
		{"___", "diary"},
		{"---", "diary"},
		{"   ", "diary"},

		// Leading/trailing cleanup
		{"_road_", "road"},
		{"-road-", "road"},
		{" road ", "road"},

		// Multiple underscores/hyphens
		{"my--road", "my_road"},
		{"my__road", "my_road"},
		{"my - road", "my_road"},

		// Long names (63 char limit)
		{
			"ThisIsAReallyLongAccountNameThatExceedsThePostgreSQLIdentifierLimitOfSixtyThreeCharacters",
			"thisisareallylongaccountnamethatexceedsthepostgresqlidentifierl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := SanitizeIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeIdentifier_ValidIdentifier(t *testing.T) {
	testCases := []string{
		"Some User",
		"123",
		"",
		"___test___",
		"valid_name",
		"UPPERCASE@HOST.ORG",
	}

	for _, tc := range testCases {
		result := SanitizeIdentifier(tc)

		if result == "" {
			t.Errorf("SanitizeIdentifier(%q) returned empty string", tc)
			continue
		}
		if len(result) > 63 {
			t.Errorf("SanitizeIdentifier(%q) length %d exceeds 63", tc, len(result))
		}
		if result[0] < 'a' || result[0] > 'z' {
			t.Errorf("SanitizeIdentifier(%q) = %q, doesn't start with letter", tc, result)
		}
		for _, c := range result {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
				t.Errorf("SanitizeIdentifier(%q) = %q, contains invalid character %q", tc, result, c)
			}
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, "data_dir: \""+dataDir+"\"\nremote:\n  base_url: \"https://diary.example.com/\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Store.Driver)
	}
	if cfg.Remote.BaseURL != "https://diary.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Remote.BaseURL)
	}
	if cfg.Sync.Concurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", cfg.Sync.Concurrency)
	}
	if cfg.Remote.Timeout().Seconds() != 30 {
		t.Errorf("expected 30s timeout, got %v", cfg.Remote.Timeout())
	}
	if got, want := cfg.SQLitePath(), filepath.Join(dataDir, "tripsync.db"); got != want {
		t.Errorf("SQLitePath() = %q, want %q", got, want)
	}
	if cfg.Sync.HoldCursorOnItemErrors {
		t.Error("cursor should advance on item errors by default")
	}
}

func TestLoad_PostgresSchemaFromUsername(t *testing.T) {
	path := writeConfig(t, `data_dir: "`+t.TempDir()+`"
store:
  driver: postgres
  postgres:
    host: db.internal
    user: diary
    password: "${TRIPSYNC_TEST_DB_PASSWORD}"
    database: diary
remote:
  base_url: "https://diary.example.com"
  username: "Road Runner"
`)
	t.Setenv("TRIPSYNC_TEST_DB_PASSWORD", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Postgres.Schema != "road_runner" {
		t.Errorf("expected schema road_runner, got %q", cfg.Store.Postgres.Schema)
	}
	if cfg.Store.Postgres.Password != "s3cret" {
		t.Errorf("expected expanded password, got %q", cfg.Store.Postgres.Password)
	}
	connStr := cfg.Store.Postgres.ConnectionString()
	if !strings.Contains(connStr, "search_path=road_runner,public") {
		t.Errorf("connection string missing search_path: %s", connStr)
	}
	if !strings.Contains(connStr, "@db.internal:5432/diary") {
		t.Errorf("connection string missing host/port: %s", connStr)
	}
}

func TestLoad_PostgresRequiresHost(t *testing.T) {
	path := writeConfig(t, `data_dir: "`+t.TempDir()+`"
store:
  driver: postgres
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for postgres without host")
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `data_dir: "`+t.TempDir()+`"
store:
  driver: bolt
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown driver")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "data_dir: \""+t.TempDir()+"\"\n")
	t.Setenv("TRIPSYNC_SYNC_CONCURRENCY", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.Concurrency != 9 {
		t.Errorf("expected env override 9, got %d", cfg.Sync.Concurrency)
	}
}
