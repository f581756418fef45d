package sync

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHashString(t *testing.T) {
	// Known SHA256 hash of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	result := HashString("hello")

	if result != expected {
		t.Errorf("HashString(\"hello\") = %q, want %q", result, expected)
	}
}

func TestChecksum(t *testing.T) {
	content := []byte("test content")
	hash1 := Checksum(content)
	hash2 := Checksum(content)

	if hash1 != hash2 {
		t.Errorf("same content produced different checksums: %q != %q", hash1, hash2)
	}

	different := Checksum([]byte("different content"))
	if hash1 == different {
		t.Error("different content should produce different checksum")
	}

	if len(hash1) != 64 {
		t.Errorf("checksum length should be 64, got %d", len(hash1))
	}
}

func TestChecksum_Empty(t *testing.T) {
	// SHA256 of empty input
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := Checksum(nil); got != expected {
		t.Errorf("Checksum(nil) = %q, want %q", got, expected)
	}
}

func TestNewPhoto_ChecksumIndependentOfID(t *testing.T) {
	content := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	recordID := uuid.New()
	at := time.Date(2024, 6, 25, 8, 0, 0, 0, time.FixedZone("CEST", 7200))

	a := NewPhoto(uuid.New(), recordID, content, at)
	b := NewPhoto(uuid.New(), uuid.New(), append([]byte(nil), content...), at.Add(time.Hour))

	if a.ID == b.ID {
		t.Fatal("expected distinct ids")
	}
	if a.Checksum != b.Checksum {
		t.Errorf("byte-identical photos have different checksums: %q != %q", a.Checksum, b.Checksum)
	}
	if !SameContent(a.Checksum, b.Checksum) {
		t.Error("SameContent should hold for identical checksums")
	}
	if a.CreatedAt.Location() != time.UTC {
		t.Errorf("created_at should be UTC, got %v", a.CreatedAt.Location())
	}
	if !a.UpdatedAt.Equal(a.CreatedAt) {
		t.Errorf("new photo updated_at %v != created_at %v", a.UpdatedAt, a.CreatedAt)
	}
}

func TestSameContent(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"", "", false},
		{"abc", "", false},
	}

	for _, tt := range tests {
		if got := SameContent(tt.a, tt.b); got != tt.expected {
			t.Errorf("SameContent(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
		}
	}
}
